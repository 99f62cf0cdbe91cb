package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
)

const (
	// SubjectMessageParsed carries one chat.Record per message.
	SubjectMessageParsed = "swarm.waexport.message.parsed"
	// SubjectImportCompleted carries an ImportEvent after each imported file.
	SubjectImportCompleted = "swarm.waexport.import.completed"
)

// ImportEvent summarizes one imported export file.
type ImportEvent struct {
	Source    string     `json:"source"`
	Records   int        `json:"records"`
	Unparsed  int        `json:"unparsed"`
	System    int        `json:"system"`
	Media     int        `json:"media"`
	FirstDate *chat.Date `json:"first_date"`
	LastDate  *chat.Date `json:"last_date"`
	Timestamp time.Time  `json:"timestamp"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("waexport"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Name() string {
	return "nats"
}

// WriteRecords publishes each record on SubjectMessageParsed and flushes
// the connection so the batch is on the wire before returning.
func (c *Client) WriteRecords(ctx context.Context, recs []chat.Record) error {
	for _, r := range recs {
		if err := c.Publish(SubjectMessageParsed, r); err != nil {
			return fmt.Errorf("publish %s: %w", r.ID, err)
		}
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// PublishImportCompleted announces a finished import.
func (c *Client) PublishImportCompleted(evt ImportEvent) error {
	return c.Publish(SubjectImportCompleted, evt)
}

func (c *Client) Close() error {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
	return nil
}
