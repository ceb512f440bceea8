package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/astrosevaa/sessiond/internal/model"
)

type sentFrame struct {
	Destination string
	Body        string
}

type fakeConn struct {
	mu         sync.Mutex
	subs       map[string]string
	unsubs     []string
	sent       []sentFrame
	messages   chan Message
	err        error
	closed     bool
	closeCalls int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		subs:     make(map[string]string),
		messages: make(chan Message, 16),
	}
}

func (c *fakeConn) Send(destination string, headers map[string]string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, sentFrame{Destination: destination, Body: string(body)})
	return nil
}

func (c *fakeConn) Subscribe(id, destination string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[id] = destination
	return nil
}

func (c *fakeConn) Unsubscribe(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
	c.unsubs = append(c.unsubs, id)
	return nil
}

func (c *fakeConn) Messages() <-chan Message { return c.messages }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if !c.closed {
		c.closed = true
		close(c.messages)
	}
	return nil
}

// drop simulates the broker going away.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	if !c.closed {
		c.closed = true
		close(c.messages)
	}
}

func (c *fakeConn) destinations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for _, d := range c.subs {
		out = append(out, d)
	}
	return out
}

func (c *fakeConn) subID(destination string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, d := range c.subs {
		if d == destination {
			return id
		}
	}
	return ""
}

func (c *fakeConn) sentFrames() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentFrame(nil), c.sent...)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	calls int
	// gate, when set, blocks Dial until closed.
	gate chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string, identity model.Identity) (Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
