package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confbus/confbus/core"
	"github.com/confbus/confbus/internal/mock"
)

func TestProducerSendOK(t *testing.T) {
	bus := mock.NewBus()
	p := core.NewProducer(bus)

	msg := core.NewMessage([]byte("k"), []byte("v"), map[string]string{
		core.HeaderCorrelationID: "corr-1",
	})
	receipt := p.Send(context.Background(), "config-request", msg)

	assert.True(t, receipt.OK())
	assert.Equal(t, "corr-1", receipt.MessageID)
	assert.Equal(t, "config-request", receipt.Topic)
	require.Len(t, bus.Published(), 1)
	assert.Equal(t, "config-request", bus.Published()[0].Topic)
}

func TestProducerRetriesOnceOnTransientFailure(t *testing.T) {
	bus := mock.NewBus()
	bus.PublishErrs = []error{errors.New("transient")}
	p := core.NewProducer(bus)

	receipt := p.Send(context.Background(), "t", core.NewMessage(nil, []byte("v"), nil))

	assert.True(t, receipt.OK(), "second attempt should have succeeded")
	assert.Len(t, bus.Published(), 1)
}

func TestProducerFailsAfterSingleRetry(t *testing.T) {
	bus := mock.NewBus()
	bus.PublishErrs = []error{errors.New("boom-1"), errors.New("boom-2")}
	p := core.NewProducer(bus)

	receipt := p.Send(context.Background(), "t", core.NewMessage(nil, []byte("v"), nil))

	assert.Equal(t, core.StatusFailed, receipt.Status)
	require.Error(t, receipt.Err)
	assert.Contains(t, receipt.Err.Error(), "boom-2")
	assert.Empty(t, bus.Published(), "no third attempt")
}

func TestProducerSendIsBounded(t *testing.T) {
	bus := mock.NewBus()
	bus.PublishDelay = 10 * time.Second
	p := core.NewProducer(bus, core.WithFlushTimeout(50*time.Millisecond))

	start := time.Now()
	receipt := p.Send(context.Background(), "t", core.NewMessage(nil, []byte("v"), nil))
	elapsed := time.Since(start)

	assert.Equal(t, core.StatusFailed, receipt.Status)
	assert.Less(t, elapsed, time.Second, "send must return within the flush deadlines, took %s", elapsed)
}

func TestProducerDoesNotRetryWhenBusClosed(t *testing.T) {
	bus := mock.NewBus()
	require.NoError(t, bus.Close())
	p := core.NewProducer(bus)

	receipt := p.Send(context.Background(), "t", core.NewMessage(nil, []byte("v"), nil))

	assert.Equal(t, core.StatusFailed, receipt.Status)
	assert.ErrorIs(t, receipt.Err, core.ErrBusClosed)
}

func TestProducerGeneratesMessageIDWhenHeaderAbsent(t *testing.T) {
	bus := mock.NewBus()
	p := core.NewProducer(bus)

	receipt := p.Send(context.Background(), "t", core.NewMessage(nil, []byte("v"), nil))
	assert.NotEmpty(t, receipt.MessageID)
}
