package cachestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/orgrosua/yabe-siul/internal/httpclient"
)

// Invalidator tells a downstream cache that the artifact changed.
type Invalidator interface {
	Invalidate(ctx context.Context, artifact Artifact) error
}

// Event is the payload sent to every invalidation target.
type Event struct {
	File        string    `json:"file"`
	Fingerprint string    `json:"fingerprint"`
	Size        int       `json:"size"`
	WrittenAt   time.Time `json:"written_at"`
}

func eventFor(a Artifact) Event {
	return Event{File: a.File, Fingerprint: a.Fingerprint, Size: a.Size, WrittenAt: a.WrittenAt}
}

// Invalidators notifies every member, joining their errors.
type Invalidators []Invalidator

func (is Invalidators) Invalidate(ctx context.Context, artifact Artifact) error {
	var errs []error
	for _, inv := range is {
		if err := inv.Invalidate(ctx, artifact); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// NATSInvalidator publishes an Event on a subject.
type NATSInvalidator struct {
	conn    publisher
	close   func()
	subject string
	logger  *zap.Logger
}

// NewNATSInvalidator connects to url.
func NewNATSInvalidator(url, subject string, logger *zap.Logger) (*NATSInvalidator, error) {
	conn, err := nats.Connect(url, nats.Name("yabe-siul"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("NATS invalidator connected", zap.String("url", url), zap.String("subject", subject))
	return &NATSInvalidator{conn: conn, close: conn.Close, subject: subject, logger: logger}, nil
}

func (n *NATSInvalidator) Invalidate(ctx context.Context, artifact Artifact) error {
	data, err := sonic.Marshal(eventFor(artifact))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := n.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	n.logger.Debug("published invalidation", zap.String("subject", n.subject), zap.String("fingerprint", artifact.Fingerprint))
	return nil
}

// Close closes the connection.
func (n *NATSInvalidator) Close() {
	if n.close != nil {
		n.close()
	}
}

// WebhookInvalidator POSTs an Event to each URL.
type WebhookInvalidator struct {
	client *httpclient.Client
	urls   []string
}

func NewWebhookInvalidator(client *httpclient.Client, urls []string) *WebhookInvalidator {
	return &WebhookInvalidator{client: client, urls: urls}
}

func (w *WebhookInvalidator) Invalidate(ctx context.Context, artifact Artifact) error {
	event := eventFor(artifact)
	var errs []error
	for _, url := range w.urls {
		if err := w.client.PostJSON(ctx, url, event, nil); err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", url, err))
		}
	}
	return errors.Join(errs...)
}
