package broker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confbus/confbus/core"
	"github.com/confbus/confbus/internal/mock"
)

// slowBus blocks Close until released, for grace-period tests.
type slowBus struct {
	mock.Bus
	release chan struct{}
}

func (b *slowBus) Close() error {
	<-b.release
	return nil
}

func registerFake(t *testing.T, name string, created *int32, bus core.Bus) {
	t.Helper()
	Register(name, func(Settings) (core.Bus, error) {
		atomic.AddInt32(created, 1)
		return bus, nil
	})
}

func TestConnectDisabledBroker(t *testing.T) {
	conn := NewConnection(Settings{Enabled: false, Driver: "kafka"})
	err := conn.Connect(context.Background())
	assert.ErrorIs(t, err, core.ErrBusDisabled)
	assert.Nil(t, conn.Bus())
}

func TestConnectIsIdempotent(t *testing.T) {
	var created int32
	registerFake(t, "fake-idem", &created, mock.NewBus())

	conn := NewConnection(Settings{Enabled: true, Driver: "fake-idem"})
	require.NoError(t, conn.Connect(context.Background()))
	require.NoError(t, conn.Connect(context.Background()))
	require.NoError(t, conn.Connect(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
	assert.NotNil(t, conn.Bus())
}

func TestConnectUnknownDriver(t *testing.T) {
	conn := NewConnection(Settings{Enabled: true, Driver: "no-such-driver"})
	err := conn.Connect(context.Background())
	assert.Error(t, err)
	assert.Nil(t, conn.Bus())
}

func TestCloseIsIdempotent(t *testing.T) {
	var created int32
	bus := mock.NewBus()
	registerFake(t, "fake-close", &created, bus)

	conn := NewConnection(Settings{Enabled: true, Driver: "fake-close"})
	require.NoError(t, conn.Connect(context.Background()))

	assert.NoError(t, conn.Close())
	assert.True(t, bus.IsClosed())
	assert.NoError(t, conn.Close(), "second close is a no-op")
}

func TestConnectAfterCloseFails(t *testing.T) {
	var created int32
	registerFake(t, "fake-reuse", &created, mock.NewBus())

	conn := NewConnection(Settings{Enabled: true, Driver: "fake-reuse"})
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Connect(context.Background()), core.ErrBusClosed)
}

func TestCloseBoundedByGracePeriod(t *testing.T) {
	var created int32
	slow := &slowBus{release: make(chan struct{})}
	defer close(slow.release)
	registerFake(t, "fake-slow", &created, slow)

	conn := NewConnection(Settings{
		Enabled:    true,
		Driver:     "fake-slow",
		CloseGrace: 50 * time.Millisecond,
	})
	require.NoError(t, conn.Connect(context.Background()))

	start := time.Now()
	err := conn.Close()
	assert.ErrorIs(t, err, core.ErrCloseTimeout)
	assert.Less(t, time.Since(start), time.Second,
		"close must abandon an unresponsive driver")
}
