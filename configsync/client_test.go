package configsync_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confbus/confbus/codec"
	"github.com/confbus/confbus/config"
	"github.com/confbus/confbus/configsync"
	"github.com/confbus/confbus/core"
	"github.com/confbus/confbus/internal/mock"
)

type fixture struct {
	bus      *mock.Bus
	consumer *core.Consumer
	client   *configsync.Client
	store    *config.Store
}

func newFixture(t *testing.T, opts ...configsync.Option) *fixture {
	t.Helper()
	bus := mock.NewBus()
	producer := core.NewProducer(bus)
	consumer := core.NewConsumer(bus,
		core.WithPollTimeout(20*time.Millisecond),
		core.WithJoinTimeout(2*time.Second))
	store := config.NewStore(nil)
	client := configsync.New(producer, consumer, store, opts...)
	consumer.Subscribe(client.ResponseTopic(), client.Handler())
	require.NoError(t, consumer.Start())
	t.Cleanup(func() { consumer.Stop() })
	return &fixture{bus: bus, consumer: consumer, client: client, store: store}
}

// awaitRequest waits for the handshake request to be published and returns
// its envelope.
func awaitRequest(t *testing.T, bus *mock.Bus) *codec.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if published := bus.Published(); len(published) > 0 {
			env, err := codec.Decode(published[0].Message.Value())
			require.NoError(t, err)
			return env
		}
		select {
		case <-deadline:
			t.Fatal("no config request was published")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// respond pushes a config-response envelope onto the response topic.
func respond(t *testing.T, bus *mock.Bus, correlationID string, payload []byte) {
	t.Helper()
	data, err := codec.Encode(&codec.Envelope{
		CorrelationID: correlationID,
		ServiceName:   "authority",
		Kind:          codec.KindConfigResponse,
		Payload:       payload,
	})
	require.NoError(t, err)
	bus.Push(configsync.DefaultResponseTopic, &mock.Message{V: data})
}

func configPayload(t *testing.T, cfg *config.Config) []byte {
	t.Helper()
	data, err := codec.EncodePayload(cfg)
	require.NoError(t, err)
	return data
}

func TestRequestTimeoutReturnsDefaultUnchanged(t *testing.T) {
	f := newFixture(t)
	def := &config.Config{ServiceName: "svcX", ConfigVersion: 1}

	start := time.Now()
	got, err := f.client.Request(context.Background(), def, 100*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, def, got)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int64(1), f.store.Load().ConfigVersion)
}

func TestRequestPublishesRequestEnvelope(t *testing.T) {
	f := newFixture(t)
	def := &config.Config{ServiceName: "svcX", ServiceVersion: "2.0.0", ConfigVersion: 1}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.client.Request(context.Background(), def, 300*time.Millisecond)
	}()

	env := awaitRequest(t, f.bus)
	assert.Equal(t, codec.KindConfigRequest, env.Kind)
	assert.Equal(t, "svcX", env.ServiceName)
	assert.Equal(t, "2.0.0", env.ServiceVersion)
	assert.NotEmpty(t, env.CorrelationID)

	var sent config.Config
	require.NoError(t, codec.DecodePayload(env.Payload, &sent))
	assert.Equal(t, int64(1), sent.ConfigVersion)
	<-done
}

func TestRequestKeepsLocalWhenResponseIsStale(t *testing.T) {
	f := newFixture(t)
	def := &config.Config{ServiceName: "svcX", ConfigVersion: 3}

	go func() {
		env := awaitRequest(t, f.bus)
		respond(t, f.bus, env.CorrelationID,
			configPayload(t, &config.Config{ServiceName: "svcX", ConfigVersion: 2}))
	}()

	got, err := f.client.Request(context.Background(), def, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ConfigVersion, "an older remote must never regress a newer local config")
	assert.Equal(t, int64(3), f.store.Load().ConfigVersion)
}

func TestRequestAdoptsNewerResponse(t *testing.T) {
	f := newFixture(t)
	def := &config.Config{ServiceName: "svcX", ConfigVersion: 1}

	go func() {
		env := awaitRequest(t, f.bus)
		respond(t, f.bus, env.CorrelationID,
			configPayload(t, &config.Config{ServiceName: "svcX", ConfigVersion: 5}))
	}()

	got, err := f.client.Request(context.Background(), def, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.ConfigVersion)
	assert.Equal(t, int64(5), f.store.Load().ConfigVersion)
}

func TestRequestSkipsMalformedResponseAndKeepsWaiting(t *testing.T) {
	f := newFixture(t)
	def := &config.Config{ServiceName: "svcX", ConfigVersion: 1}

	go func() {
		env := awaitRequest(t, f.bus)
		respond(t, f.bus, env.CorrelationID, []byte(`{malformed`))
		respond(t, f.bus, env.CorrelationID,
			configPayload(t, &config.Config{ServiceName: "svcX", ConfigVersion: 5}))
	}()

	got, err := f.client.Request(context.Background(), def, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.ConfigVersion, "a malformed response must not consume the waiter")
}

func TestLateResponseHasNoRetroactiveEffect(t *testing.T) {
	f := newFixture(t)
	def := &config.Config{ServiceName: "svcX", ConfigVersion: 1}

	got, err := f.client.Request(context.Background(), def, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ConfigVersion)

	env := awaitRequest(t, f.bus)
	respond(t, f.bus, env.CorrelationID,
		configPayload(t, &config.Config{ServiceName: "svcX", ConfigVersion: 9}))

	// The late response falls through to the push handler, which never
	// touches the live configuration.
	assert.Never(t, func() bool {
		return f.store.Load().ConfigVersion != 1
	}, 300*time.Millisecond, 20*time.Millisecond)
}

func TestRequestDisabledBrokerReturnsDefaultImmediately(t *testing.T) {
	store := config.NewStore(nil)
	client := configsync.New(nil, nil, store)
	def := &config.Config{ServiceName: "svcX", ConfigVersion: 1}

	start := time.Now()
	got, err := client.Request(context.Background(), def, 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, def, got)
	assert.Less(t, time.Since(start), time.Second, "disabled mode must not wait on the timeout")
	assert.Equal(t, int64(1), store.Load().ConfigVersion)
}

func TestRequestNilDefaultIsStartupError(t *testing.T) {
	client := configsync.New(nil, nil, config.NewStore(nil))
	_, err := client.Request(context.Background(), nil, time.Second)
	assert.ErrorIs(t, err, configsync.ErrNoDefaultConfig)
}

func TestPushHandlerPersistsNewerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	f := newFixture(t, configsync.WithPersistPath(path))
	def := &config.Config{ServiceName: "svcX", ConfigVersion: 1}

	_, err := f.client.Request(context.Background(), def, 50*time.Millisecond)
	require.NoError(t, err)

	respond(t, f.bus, "push-1",
		configPayload(t, &config.Config{ServiceName: "svcX", ConfigVersion: 4}))

	assert.Eventually(t, func() bool {
		cfg, err := config.LoadFile(path, nil)
		return err == nil && cfg.ConfigVersion == 4
	}, 2*time.Second, 20*time.Millisecond, "pushed config should be persisted for the next boot")
	assert.Equal(t, int64(1), f.store.Load().ConfigVersion, "live config stays untouched")
}

func TestPushHandlerIgnoresOtherServices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	f := newFixture(t, configsync.WithPersistPath(path))
	def := &config.Config{ServiceName: "svcX", ConfigVersion: 1}

	_, err := f.client.Request(context.Background(), def, 50*time.Millisecond)
	require.NoError(t, err)

	respond(t, f.bus, "push-2",
		configPayload(t, &config.Config{ServiceName: "svcY", ConfigVersion: 9}))

	assert.Never(t, func() bool {
		_, err := config.LoadFile(path, nil)
		return err == nil
	}, 300*time.Millisecond, 20*time.Millisecond)
}
