package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/astrosevaa/sessiond/internal/audit"
	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/httputil"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeBody reads a JSON body into dst and runs struct validation. An empty
// body is accepted when allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return apperrors.ValidationError("Request body is required")
		}
		return apperrors.ValidationError("Invalid JSON body").WithCause(err)
	}

	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.ValidationError(err.Error())
	}

	fields := make(map[string]string, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
		names = append(names, fe.Field())
	}
	return apperrors.ValidationError(fmt.Sprintf("Invalid fields: %s", strings.Join(names, ", "))).
		WithDetails(fields)
}

func auditAction(r *http.Request, eventType audit.EventType, err error, details map[string]any) {
	outcome := audit.OutcomeOK
	if err != nil {
		outcome = string(apperrors.GetCode(err))
		if outcome == "" {
			outcome = string(apperrors.ErrCodeInternal)
		}
	}
	audit.LogFromRequest(r, audit.Event{Type: eventType, Outcome: outcome, Details: details})
}
