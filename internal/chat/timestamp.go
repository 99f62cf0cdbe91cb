package chat

import (
	"strings"
	"time"
)

// Layout is one candidate date-time format tried by a Resolver.
type Layout struct {
	Name  string
	Date  string // Go reference layout for the date part
	Clock string // Go reference layout for the time part
}

func (l Layout) String() string {
	return l.Date + ", " + l.Clock
}

// DefaultLayouts is the fixed resolution order. For two-digit years both
// day/month and month/day layouts accept many dates, and whichever comes
// first here wins.
var DefaultLayouts = []Layout{
	{Name: "dd/mm/yyyy 24h", Date: "2/1/2006", Clock: "15:04"},
	{Name: "mm/dd/yy 24h", Date: "1/2/06", Clock: "15:04"},
	{Name: "dd/mm/yy 24h", Date: "2/1/06", Clock: "15:04"},
	{Name: "mm/dd/yyyy 24h", Date: "1/2/2006", Clock: "15:04"},
	{Name: "dd/mm/yyyy 12h", Date: "2/1/2006", Clock: "3:04 PM"},
	{Name: "mm/dd/yy 12h", Date: "1/2/06", Clock: "3:04 PM"},
	{Name: "dd/mm/yy 12h", Date: "2/1/06", Clock: "3:04 PM"},
	{Name: "mm/dd/yyyy 12h", Date: "1/2/2006", Clock: "3:04 PM"},
}

// Resolution is a successfully resolved timestamp.
type Resolution struct {
	Local  time.Time // wall clock in the resolver's location
	Layout Layout
}

// UTC returns the resolved instant normalized to UTC.
func (r Resolution) UTC() time.Time {
	return r.Local.UTC()
}

// Date returns the calendar date the message was sent, before any UTC shift.
func (r Resolution) Date() Date {
	return DateOf(r.Local)
}

// Resolver turns export date and time strings into instants.
type Resolver struct {
	layouts []Layout
	loc     *time.Location
}

// NewResolver creates a resolver that interprets wall-clock times in loc
// (UTC when nil) and tries layouts in order (DefaultLayouts when empty).
func NewResolver(loc *time.Location, layouts ...Layout) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	return &Resolver{layouts: layouts, loc: loc}
}

// Location returns the zone wall-clock times are interpreted in.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve returns the result of the first layout that parses date and clock.
func (r *Resolver) Resolve(date, clock string) (Resolution, bool) {
	value := strings.TrimSpace(date) + ", " + normalizeClock(clock)
	for _, l := range r.layouts {
		t, err := time.ParseInLocation(l.String(), value, r.loc)
		if err != nil {
			continue
		}
		return Resolution{Local: t, Layout: l}, true
	}
	return Resolution{}, false
}

// normalizeClock upper-cases the meridiem and puts exactly one ASCII space
// in front of it, so "9:15pm", "9:15 pm" and "9:15\u202fPM" all read "9:15 PM".
func normalizeClock(clock string) string {
	clock = strings.ToUpper(strings.TrimSpace(clock))
	if !strings.HasSuffix(clock, "AM") && !strings.HasSuffix(clock, "PM") {
		return clock
	}
	n := len(clock) - 2
	return strings.TrimSpace(clock[:n]) + " " + clock[n:]
}
