package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/zcanic/zcanic-server/internal/events"
	"github.com/zcanic/zcanic-server/internal/platform/logger"
	"go.opentelemetry.io/otel"
)

// ErrClosed is returned when publishing on a drained bus.
var ErrClosed = errors.New("nats bus is closed")

// Bus publishes and receives TaskSubmittedEvents on a single subject.
type Bus struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// Ensure Bus can be registered with an events emitter
var _ events.EventHandler = (*Bus)(nil)

// Connect dials the NATS server at url. Connection loss is retried forever
// in the background.
func Connect(url, subject, name string, log *slog.Logger) (*Bus, error) {
	if subject == "" {
		return nil, errors.New("nats subject cannot be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "nats_bus"), slog.String("subject", subject))

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &Bus{nc: nc, subject: subject, logger: log}, nil
}

// HandleEvent publishes event. It implements events.EventHandler so the bus
// can sit behind the submission service's emitter.
func (b *Bus) HandleEvent(ctx context.Context, event *events.TaskSubmittedEvent) error {
	if b.nc.IsClosed() || b.nc.IsDraining() {
		return ErrClosed
	}

	msg, err := newMessage(ctx, b.subject, event)
	if err != nil {
		return err
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		logger.FromContextOrDefault(ctx, b.logger).Warn("failed to publish task event",
			slog.String("task_id", event.TaskID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("publish task event: %w", err)
	}
	return nil
}

// Subscribe delivers every event received on the subject to handler until
// ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, handler events.EventHandler) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		msgCtx, event, err := decodeMessage(ctx, msg)
		if err != nil {
			b.logger.Warn("dropping malformed task event", slog.String("error", err.Error()))
			return
		}
		if err := handler.HandleEvent(msgCtx, event); err != nil {
			b.logger.Warn("task event handler failed",
				slog.String("task_id", event.TaskID.String()),
				slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

func newMessage(ctx context.Context, subject string, event *events.TaskSubmittedEvent) (*nats.Msg, error) {
	data, err := event.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode task event: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{h: msg.Header})
	return msg, nil
}

func decodeMessage(ctx context.Context, msg *nats.Msg) (context.Context, *events.TaskSubmittedEvent, error) {
	event, err := events.UnmarshalTaskSubmittedEvent(msg.Data)
	if err != nil {
		return ctx, nil, err
	}
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{h: msg.Header})
	}
	return ctx, event, nil
}
