package chat

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stats are diagnostic counters for one assembler run.
type Stats struct {
	Lines         int `json:"lines"`         // non-blank lines consumed
	Records       int `json:"records"`       // records emitted
	Unparsed      int `json:"unparsed"`      // bad dates and unhandled starting lines
	System        int `json:"system"`        // emitted records flagged as system messages
	Media         int `json:"media"`         // emitted records flagged as media
	Continuations int `json:"continuations"` // lines folded into an open message
	Truncated     int `json:"truncated"`     // overlong lines cut to the line limit
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLocation sets the zone export timestamps are written in.
func WithLocation(loc *time.Location) Option {
	return func(a *Assembler) { a.resolver = NewResolver(loc, a.resolver.layouts...) }
}

// WithLayouts overrides the timestamp layout order.
func WithLayouts(layouts ...Layout) Option {
	return func(a *Assembler) { a.resolver = NewResolver(a.resolver.loc, layouts...) }
}

// WithIDFunc replaces the record ID generator.
func WithIDFunc(f func() string) Option {
	return func(a *Assembler) { a.newID = f }
}

// WithLogger sets the logger used for per-line warnings.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// bundle is the message currently being accumulated.
type bundle struct {
	rec  Record
	text strings.Builder
	raw  strings.Builder
}

func (b *bundle) appendLine(line string) {
	b.text.WriteByte('\n')
	b.text.WriteString(line)
	b.raw.WriteByte('\n')
	b.raw.WriteString(line)
}

// Assembler turns raw export lines into records. It is Idle when open is nil
// and Open otherwise; at most one message is in progress at a time. An
// Assembler is not safe for concurrent use.
type Assembler struct {
	resolver *Resolver
	newID    func() string
	logger   *slog.Logger

	open   *bundle
	lineNo int
	stats  Stats
}

// NewAssembler creates an idle assembler.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		resolver: NewResolver(nil),
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Feed consumes the next physical line and returns the records it completed,
// in emission order. A line that opens or extends a message returns nothing
// until a later boundary or Flush closes that message.
func (a *Assembler) Feed(line string) []Record {
	a.lineNo++
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	a.stats.Lines++

	c := Classify(line)
	switch c.Kind {
	case KindStart:
		return a.startMessage(line, c)
	case KindSystem:
		return a.systemLine(line)
	default:
		return a.unclassified(line)
	}
}

// Flush closes the open message, if any. Call it once at end of input.
func (a *Assembler) Flush() []Record {
	if a.open == nil {
		return nil
	}
	return []Record{a.closeBundle()}
}

// Stats returns the counters accumulated so far.
func (a *Assembler) Stats() Stats {
	return a.stats
}

// Open reports whether a message is in progress.
func (a *Assembler) Open() bool {
	return a.open != nil
}

func (a *Assembler) startMessage(line string, c Classification) []Record {
	res, ok := a.resolver.Resolve(c.Date, c.Time)
	if !ok {
		a.stats.Unparsed++
		a.logger.Warn("could not parse message date",
			"line", a.lineNo,
			"date", c.Date,
			"time", c.Time,
			"folded", a.open != nil,
		)
		if a.open != nil {
			a.open.appendLine(line)
			a.stats.Continuations++
			return nil
		}
		return []Record{a.emit(Record{
			ID:              a.newID(),
			UserName:        UserSystemUnparsed,
			MessageText:     line,
			IsSystemMessage: true,
			RawLine:         line,
		})}
	}

	var out []Record
	if a.open != nil {
		out = append(out, a.closeBundle())
	}

	user, text, system := c.User, c.Message, false
	if joined := user + ": " + text; IsSystemText(joined) {
		user, text, system = UserSystem, joined, true
	}

	ts := res.UTC()
	date := res.Date()
	b := &bundle{rec: Record{
		ID:              a.newID(),
		Timestamp:       &ts,
		DatePartition:   &date,
		UserName:        user,
		IsMedia:         IsMedia(text),
		IsSystemMessage: system,
	}}
	b.text.WriteString(text)
	b.raw.WriteString(line)
	a.open = b

	return out
}

func (a *Assembler) systemLine(line string) []Record {
	var out []Record
	if a.open != nil {
		out = append(out, a.closeBundle())
	}

	rec := Record{
		ID:              a.newID(),
		UserName:        UserSystem,
		MessageText:     line,
		IsSystemMessage: true,
		RawLine:         line,
	}
	if date, clock, payload, ok := splitPrefix(line); ok {
		if res, ok := a.resolver.Resolve(date, clock); ok {
			ts := res.UTC()
			d := res.Date()
			rec.Timestamp = &ts
			rec.DatePartition = &d
			rec.MessageText = payload
		}
	}

	return append(out, a.emit(rec))
}

func (a *Assembler) unclassified(line string) []Record {
	if a.open != nil {
		a.open.appendLine(line)
		a.stats.Continuations++
		return nil
	}

	a.stats.Unparsed++
	a.logger.Info("unhandled starting line", "line", a.lineNo)
	return []Record{a.emit(Record{
		ID:              a.newID(),
		UserName:        UserSystemUnhandledStart,
		MessageText:     line,
		IsSystemMessage: true,
		RawLine:         line,
	})}
}

func (a *Assembler) closeBundle() Record {
	b := a.open
	a.open = nil
	b.rec.MessageText = b.text.String()
	b.rec.RawLine = b.raw.String()
	return a.emit(b.rec)
}

func (a *Assembler) emit(rec Record) Record {
	a.stats.Records++
	if rec.IsSystemMessage {
		a.stats.System++
	}
	if rec.IsMedia {
		a.stats.Media++
	}
	return rec
}
