package natsbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func testEvent() *events.TaskSubmittedEvent {
	return events.NewTaskSubmittedEvent(&domain.Task{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Type:   domain.TaskTypeChatCompletion,
	})
}

func TestHeaderCarrier(t *testing.T) {
	c := headerCarrier{h: nats.Header{}}
	c.Set("traceparent", "abc")

	assert.Equal(t, "abc", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}

func TestMessageRoundTripCarriesTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	event := testEvent()
	msg, err := newMessage(ctx, "tasks.submitted", event)
	require.NoError(t, err)
	assert.Equal(t, "tasks.submitted", msg.Subject)
	assert.NotEmpty(t, msg.Header.Get("traceparent"))

	gotCtx, got, err := decodeMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, event.TaskID, got.TaskID)
	assert.Equal(t, traceID, trace.SpanContextFromContext(gotCtx).TraceID())
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	_, _, err := decodeMessage(context.Background(), &nats.Msg{Data: []byte("{")})
	assert.Error(t, err)
}

func TestConnectRequiresSubject(t *testing.T) {
	_, err := Connect(nats.DefaultURL, "", "test", nil)
	assert.Error(t, err)
}

// TestBus_PublishSubscribe needs a running server at NATS_URL.
func TestBus_PublishSubscribe(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	bus, err := Connect(url, "tasks.submitted.test."+uuid.NewString(), "bus-test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, bus.Close()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.TaskSubmittedEvent, 1)
	err = bus.Subscribe(ctx, events.EventHandlerFunc(func(_ context.Context, e *events.TaskSubmittedEvent) error {
		received <- e
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, bus.nc.Flush())

	event := testEvent()
	require.NoError(t, bus.HandleEvent(context.Background(), event))

	select {
	case got := <-received:
		assert.Equal(t, event.TaskID, got.TaskID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task event")
	}
}
