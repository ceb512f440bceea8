// Package store persists the whitelisted client state across restarts.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astrosevaa/sessiond/internal/model"
	redisclient "github.com/astrosevaa/sessiond/internal/redis"
)

const (
	fieldToken         = "token"
	fieldRole          = "role"
	fieldFreeChatUsed  = "freeChatUsed"
	fieldBalance       = "balance"
	fieldActiveSession = "activeSession"
	fieldOtherParty    = "otherParty"
)

// Fields lists every hash field that is read or written. Anything else in the
// hash is ignored.
var Fields = []string{
	fieldToken,
	fieldRole,
	fieldFreeChatUsed,
	fieldBalance,
	fieldActiveSession,
	fieldOtherParty,
}

// Encode flattens snap into hash fields. Absent optional values are omitted.
func Encode(snap model.StateSnapshot) (map[string]string, error) {
	fields := map[string]string{
		fieldToken:        snap.Token,
		fieldRole:         string(snap.Role),
		fieldFreeChatUsed: strconv.FormatBool(snap.FreeChatUsed),
		fieldBalance:      strconv.FormatFloat(snap.Balance, 'f', -1, 64),
	}

	if snap.ActiveSession != nil {
		data, err := json.Marshal(snap.ActiveSession)
		if err != nil {
			return nil, fmt.Errorf("encode active session: %w", err)
		}
		fields[fieldActiveSession] = string(data)
	}
	if snap.OtherParty != nil {
		data, err := json.Marshal(snap.OtherParty)
		if err != nil {
			return nil, fmt.Errorf("encode other party: %w", err)
		}
		fields[fieldOtherParty] = string(data)
	}
	return fields, nil
}

// Decode rebuilds a snapshot from hash fields. Malformed optional fields are
// dropped rather than failing the whole restore.
func Decode(userID string, fields map[string]string) model.StateSnapshot {
	snap := model.StateSnapshot{
		UserID: userID,
		Token:  fields[fieldToken],
		Role:   model.Role(fields[fieldRole]),
	}

	if v, ok := fields[fieldFreeChatUsed]; ok {
		snap.FreeChatUsed, _ = strconv.ParseBool(v)
	}
	if v, ok := fields[fieldBalance]; ok {
		if b, err := strconv.ParseFloat(v, 64); err == nil {
			snap.Balance = b
		}
	}
	if v := fields[fieldActiveSession]; v != "" {
		var s model.Session
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("dropping unreadable active session")
		} else {
			snap.ActiveSession = &s
		}
	}
	if v := fields[fieldOtherParty]; v != "" {
		var p model.Participant
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("dropping unreadable other party")
		} else {
			snap.OtherParty = &p
		}
	}
	return snap
}

// TokenSealer encrypts the access token at rest.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(encoded string) (string, error)
}

// SealToken replaces the token field with its sealed form.
func SealToken(fields map[string]string, sealer TokenSealer) error {
	if sealer == nil || fields[fieldToken] == "" {
		return nil
	}
	sealed, err := sealer.Seal(fields[fieldToken])
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	fields[fieldToken] = sealed
	return nil
}

// OpenToken reverses SealToken. A token that cannot be opened is dropped so
// the caller falls back to the configured credentials.
func OpenToken(userID string, fields map[string]string, sealer TokenSealer) {
	if sealer == nil || fields[fieldToken] == "" {
		return
	}
	token, err := sealer.Open(fields[fieldToken])
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("dropping unreadable persisted token")
		delete(fields, fieldToken)
		return
	}
	fields[fieldToken] = token
}

type RedisStore struct {
	client *redisclient.Client
	ttl    time.Duration
	sealer TokenSealer
}

func NewRedisStore(client *redisclient.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// WithSealer encrypts the token field on save and decrypts it on load.
func (s *RedisStore) WithSealer(sealer TokenSealer) *RedisStore {
	s.sealer = sealer
	return s
}

func (s *RedisStore) Save(ctx context.Context, snap model.StateSnapshot) error {
	fields, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := SealToken(fields, s.sealer); err != nil {
		return err
	}

	key := redisclient.StateKey(snap.UserID)
	var stale []string
	for _, f := range []string{fieldActiveSession, fieldOtherParty} {
		if _, ok := fields[f]; !ok {
			stale = append(stale, f)
		}
	}

	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, values)
	if len(stale) > 0 {
		pipe.HDel(ctx, key, stale...)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or nil when none exists.
func (s *RedisStore) Load(ctx context.Context, userID string) (*model.StateSnapshot, error) {
	fields, err := s.client.HMGet(ctx, redisclient.StateKey(userID), Fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("load session state: %w", err)
	}

	values := make(map[string]string, len(Fields))
	for i, v := range fields {
		if str, ok := v.(string); ok {
			values[Fields[i]] = str
		}
	}
	if len(values) == 0 {
		return nil, nil
	}

	OpenToken(userID, values, s.sealer)
	snap := Decode(userID, values)
	return &snap, nil
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	return s.client.Del(ctx, redisclient.StateKey(userID)).Err()
}
