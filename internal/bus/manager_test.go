package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/model"
)

var testIdentity = model.Identity{UserID: "u1", Token: "tok", Role: model.RoleUser}

func fastOptions() Options {
	return Options{
		ConnectTimeout: time.Second,
		Backoff:        Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		AutoReconnect:  true,
	}
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testIdentity, "ws://bus", dialer, fastOptions())
	defer m.Reset()

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, 1, dialer.callCount())
	assert.True(t, m.IsConnected())
}

func TestManager_ConcurrentConnectSharesAttempt(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	m := NewManager(testIdentity, "ws://bus", dialer, fastOptions())
	defer m.Reset()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Connect(context.Background())
		}(i)
	}

	assert.Eventually(t, func() bool { return m.Status() == StatusConnecting }, time.Second, time.Millisecond)
	close(dialer.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, dialer.callCount())
}

func TestManager_ConnectFailure(t *testing.T) {
	dialer := &fakeDialer{errs: []error{errors.New("refused")}}
	m := NewManager(testIdentity, "ws://bus", dialer, fastOptions())
	defer m.Reset()

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConnection))
	assert.Equal(t, StatusFailed, m.Status())
}

func TestManager_SendRequiresConnection(t *testing.T) {
	m := NewManager(testIdentity, "ws://bus", &fakeDialer{}, fastOptions())
	defer m.Reset()

	err := m.Send("/app/chat.send", nil, []byte("{}"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotConnected))
}

func TestManager_SendRejectsTopicDestination(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testIdentity, "ws://bus", dialer, fastOptions())
	defer m.Reset()
	require.NoError(t, m.Connect(context.Background()))

	err := m.Send("/topic/queue/u1", nil, nil)
	assert.Error(t, err)

	require.NoError(t, m.Send("/app/chat.send", nil, []byte(`{"a":1}`)))
	assert.Equal(t, []sentFrame{{Destination: "/app/chat.send", Body: `{"a":1}`}}, dialer.last().sentFrames())
}

func TestManager_SubscribeValidatesDestination(t *testing.T) {
	m := NewManager(testIdentity, "ws://bus", &fakeDialer{}, fastOptions())
	defer m.Reset()

	_, err := m.Subscribe("/topic/queue/undefined", func(Message) {})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSubscription))

	_, err = m.Subscribe("/topic/queue/u1", nil)
	assert.Error(t, err)
}

func TestManager_SubscriptionsSurviveReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testIdentity, "ws://bus", dialer, fastOptions())
	defer m.Reset()

	var received atomic.Int32
	_, err := m.Subscribe("/topic/queue/u1", func(Message) { received.Add(1) })
	require.NoError(t, err)

	var connects, disconnects atomic.Int32
	m.AddOnConnect(func() { connects.Add(1) })
	m.AddOnDisconnect(func() { disconnects.Add(1) })

	require.NoError(t, m.Connect(context.Background()))
	first := dialer.last()
	assert.Equal(t, []string{"/topic/queue/u1"}, first.destinations())

	first.drop(errors.New("socket closed"))

	assert.Eventually(t, func() bool { return connects.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), disconnects.Load())

	second := dialer.last()
	require.NotSame(t, first, second)
	assert.Equal(t, []string{"/topic/queue/u1"}, second.destinations())

	second.messages <- Message{Destination: "/topic/queue/u1", Subscription: second.subID("/topic/queue/u1")}
	assert.Eventually(t, func() bool { return received.Load() == 1 }, time.Second, time.Millisecond)
}

func TestManager_DisconnectStopsReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testIdentity, "ws://bus", dialer, fastOptions())
	defer m.Reset()

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()
	m.Disconnect()

	assert.Equal(t, StatusDisconnected, m.Status())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.callCount())
	assert.Equal(t, 1, dialer.last().closeCalls)
}

func TestManager_ListenerRemoval(t *testing.T) {
	m := NewManager(testIdentity, "ws://bus", &fakeDialer{}, fastOptions())
	defer m.Reset()

	var calls int
	remove := m.AddOnConnect(func() { calls++ })
	remove()
	remove()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 0, calls)
}

func TestManager_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	m := NewManager(testIdentity, "ws://bus", &fakeDialer{}, fastOptions())
	defer m.Reset()

	var called bool
	m.AddOnConnect(func() { panic("bad listener") })
	m.AddOnConnect(func() { called = true })

	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, called)
}

func TestManager_ResetDisposes(t *testing.T) {
	m := NewManager(testIdentity, "ws://bus", &fakeDialer{}, fastOptions())
	_, err := m.Subscribe("/topic/queue/u1", func(Message) {})
	require.NoError(t, err)

	m.Reset()

	assert.Empty(t, m.Destinations())
	assert.Error(t, m.Connect(context.Background()))
}
