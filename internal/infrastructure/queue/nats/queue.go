package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
)

type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("medibot"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishIngestionRequested(ctx context.Context, req domain.IngestionRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal ingestion request: %w", err)
	}

	return q.do(ctx, "nats.publish", func(context.Context) error {
		if err := q.conn.Publish(q.subject, data); err != nil {
			return fmt.Errorf("publish ingestion request %s: %w", req.RunID, err)
		}
		return nil
	})
}

// SubscribeIngestionRequested consumes requests in the "workers" queue group until ctx is done.
func (q *Queue) SubscribeIngestionRequested(ctx context.Context, handler func(context.Context, domain.IngestionRequest) error) error {
	var sub *nats.Subscription
	err := q.do(ctx, "nats.subscribe", func(context.Context) error {
		var err error
		sub, err = q.conn.QueueSubscribe(q.subject, "workers", func(msg *nats.Msg) {
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}

			var req domain.IngestionRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				slog.Error("ingestion_request_decode_failed", "error", err, "payload", string(msg.Data))
				return
			}

			handlerCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			if err := handler(handlerCtx, req); err != nil {
				slog.Error("worker_handler_failed", "run_id", req.RunID, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", q.subject, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The subscription is live once the server has acknowledged it.
	err = q.do(ctx, "nats.flush", func(context.Context) error {
		return q.conn.FlushTimeout(5 * time.Second)
	})
	if err != nil {
		_ = sub.Unsubscribe()
		return err
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
