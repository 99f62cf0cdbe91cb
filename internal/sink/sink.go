// Package sink defines where parsed chat records go.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
)

// Sink accepts batches of records. Implementations must keep embedded
// newlines and nil timestamps intact.
type Sink interface {
	WriteRecords(ctx context.Context, recs []chat.Record) error
	Close() error
}

// Named is implemented by sinks that want a readable name in logs.
type Named interface {
	Name() string
}

// NameOf returns s's name, or its type when it has none.
func NameOf(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// Multi writes every batch to each sink in order and stops at the first error.
type Multi []Sink

func (m Multi) WriteRecords(ctx context.Context, recs []chat.Record) error {
	for _, s := range m {
		if err := s.WriteRecords(ctx, recs); err != nil {
			return fmt.Errorf("%s: %w", NameOf(s), err)
		}
	}
	return nil
}

// Close closes all sinks and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", NameOf(s), err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Name() string {
	return "multi"
}

// Discard drops everything. Used for dry runs.
type Discard struct{}

func (Discard) WriteRecords(context.Context, []chat.Record) error { return nil }
func (Discard) Close() error                                      { return nil }
func (Discard) Name() string                                      { return "discard" }

// Batcher buffers records and writes them to a sink size at a time.
type Batcher struct {
	ctx     context.Context
	sink    Sink
	size    int
	buf     []chat.Record
	written int
}

// NewBatcher creates a Batcher. A size below 1 means 1.
func NewBatcher(ctx context.Context, s Sink, size int) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{ctx: ctx, sink: s, size: size, buf: make([]chat.Record, 0, size)}
}

// Add buffers rec and writes the batch once it is full. Its signature
// matches the emit callback of chat.Parse.
func (b *Batcher) Add(rec chat.Record) error {
	b.buf = append(b.buf, rec)
	if len(b.buf) >= b.size {
		return b.Flush()
	}
	return nil
}

// Flush writes any buffered records.
func (b *Batcher) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.ctx.Err(); err != nil {
		return err
	}
	if err := b.sink.WriteRecords(b.ctx, b.buf); err != nil {
		return err
	}
	b.written += len(b.buf)
	b.buf = b.buf[:0]
	return nil
}

// Written returns how many records reached the sink.
func (b *Batcher) Written() int {
	return b.written
}
