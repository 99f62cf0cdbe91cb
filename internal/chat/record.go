package chat

import (
	"strconv"
	"time"
)

// Reserved user names for records that cannot be attributed to a participant.
const (
	UserSystem               = "SYSTEM"
	UserSystemUnparsed       = "SYSTEM_UNPARSED"
	UserSystemUnhandledStart = "SYSTEM_UNHANDLED_START"
)

// Columns is the output schema, in column order.
var Columns = []string{
	"message_id",
	"message_timestamp",
	"date_partition",
	"user_name",
	"message_text",
	"is_media",
	"is_system_message",
	"raw_line",
}

// Date is a calendar date with no time zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return d.Time().Format(time.DateOnly)
}

// Time returns midnight UTC on d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Record is one logical chat message, or one system/unparsed line.
type Record struct {
	ID              string     `json:"message_id"`
	Timestamp       *time.Time `json:"message_timestamp"`
	DatePartition   *Date      `json:"date_partition"`
	UserName        string     `json:"user_name"`
	MessageText     string     `json:"message_text"`
	IsMedia         bool       `json:"is_media"`
	IsSystemMessage bool       `json:"is_system_message"`
	RawLine         string     `json:"raw_line"`
}

// Values renders r as one row of string cells in Columns order.
// Absent timestamps and dates become empty cells.
func (r Record) Values() []string {
	var ts, date string
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC().Format(time.RFC3339)
	}
	if r.DatePartition != nil {
		date = r.DatePartition.String()
	}
	return []string{
		r.ID,
		ts,
		date,
		r.UserName,
		r.MessageText,
		strconv.FormatBool(r.IsMedia),
		strconv.FormatBool(r.IsSystemMessage),
		r.RawLine,
	}
}
