package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

const queueGroup = "knowledge-indexers"

var classifyNATSError = resilience.SentinelClassifier(
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
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
		nats.Name("fso-faq-assistant"),
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

func (q *Queue) PublishKnowledgeEntry(ctx context.Context, entry domain.KnowledgeEntry) error {
	payload, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return resilience.WrapTemporary("nats publish", err, classifyNATSError)
	}
	return nil
}

// SubscribeKnowledgeEntries blocks until ctx is done, then drains the subscription so
// in-flight entries finish indexing.
func (q *Queue) SubscribeKnowledgeEntries(ctx context.Context, handler func(context.Context, domain.KnowledgeEntry) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handleMessage(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
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

func handleMessage(ctx context.Context, data []byte, handler func(context.Context, domain.KnowledgeEntry) error) {
	entry, err := decodeEntry(data)
	if err != nil {
		slog.Error("knowledge_entry_decode_failed", "error", err, "bytes", len(data))
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, entry); err != nil {
		slog.Error("knowledge_entry_failed", "error", err, "source", entry.Source)
	}
}

func encodeEntry(entry domain.KnowledgeEntry) ([]byte, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal knowledge entry: %w", err)
	}
	return payload, nil
}

func decodeEntry(data []byte) (domain.KnowledgeEntry, error) {
	var entry domain.KnowledgeEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.KnowledgeEntry{}, fmt.Errorf("unmarshal knowledge entry: %w", err)
	}
	if len(entry.Question) == 0 || len(entry.Answer) == 0 {
		return domain.KnowledgeEntry{}, domain.WrapError(domain.ErrInvalidInput, "decode knowledge entry", errors.New("question and answer are required"))
	}
	return entry, nil
}
