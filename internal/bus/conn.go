package bus

import (
	"context"

	"github.com/astrosevaa/sessiond/internal/model"
)

type Status string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusFailed       Status = "FAILED"
)

// Message is an inbound MESSAGE frame.
type Message struct {
	Destination  string
	Subscription string
	Headers      map[string]string
	Body         []byte
}

// Handler consumes messages for one subscription. It runs on the connection's
// read goroutine and must not block for long.
type Handler func(Message)

// Conn is a live, handshaken bus session.
type Conn interface {
	Send(destination string, headers map[string]string, body []byte) error
	Subscribe(id, destination string) error
	Unsubscribe(id string) error
	// Messages is closed when the transport goes away.
	Messages() <-chan Message
	// Err reports why Messages was closed; nil after a local Close.
	Err() error
	Close() error
}

// Dialer opens a Conn for an identity. The context bounds the whole handshake.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, identity model.Identity) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string, identity model.Identity) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string, identity model.Identity) (Conn, error) {
	return f(ctx, endpoint, identity)
}
