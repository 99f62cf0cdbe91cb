package chat

import (
	"regexp"
	"strings"
)

// Kind is the classification of a single raw line.
type Kind int

const (
	KindUnclassified Kind = iota
	KindStart
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindSystem:
		return "system"
	default:
		return "unclassified"
	}
}

// Exports from recent app versions put a no-break or narrow no-break space
// before the meridiem, so those count as whitespace inside the prefix.
const (
	ws         = `[\s\x{00A0}\x{202F}]`
	datePart   = `\d{1,2}/\d{1,2}/\d{2}(?:\d{2})?`
	timePart   = `\d{1,2}:\d{2}(?:` + ws + `*[AaPp][Mm])?`
	linePrefix = `(?P<date>` + datePart + `),` + ws + `*(?P<time>` + timePart + `)` + ws + `*-` + ws + `*`
)

var (
	startPattern  = regexp.MustCompile(`^` + linePrefix + `(?P<user>[^:]+):` + ws + `*(?P<message>.+)$`)
	prefixPattern = regexp.MustCompile(`^` + linePrefix + `(?P<payload>.+)$`)

	// systemPatterns is matched with any-semantics; order carries no meaning.
	systemPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^.* created group `),
		regexp.MustCompile(`^.* added .*`),
		regexp.MustCompile(`^.* left$`),
		regexp.MustCompile(`^.* changed this group's icon`),
		regexp.MustCompile(`^.* changed the subject from .*`),
		regexp.MustCompile(`^.* changed their phone number .*`),
		regexp.MustCompile(`^(?:` + datePart + `,` + ws + `*` + timePart + ws + `*-` + ws + `*)?Messages and calls are end-to-end encrypted`),
		regexp.MustCompile(`^.* changed the group description`),
		regexp.MustCompile(`^.*was added$`),
		regexp.MustCompile(`^.*You're now an admin$`),
	}

	mediaPattern = regexp.MustCompile(`(?i)^<Media omitted>$|^.+\(file attached\)$|^\s*sticker omitted\s*$|^(?:image|video|audio|GIF|document) omitted$`)
)

// Classification is the raw match result for one line. Date, Time, User and
// Message are only set for KindStart. System reports whether the full line
// matched a system-notification pattern, whatever its Kind.
type Classification struct {
	Kind    Kind
	Date    string
	Time    string
	User    string
	Message string
	System  bool
}

// Classify matches a trimmed, non-empty line against the message-start
// pattern and the system-notification patterns.
func Classify(line string) Classification {
	c := Classification{System: IsSystemText(line)}

	if m := startPattern.FindStringSubmatch(line); m != nil {
		c.Kind = KindStart
		c.Date = m[startPattern.SubexpIndex("date")]
		c.Time = m[startPattern.SubexpIndex("time")]
		c.User = strings.TrimSpace(m[startPattern.SubexpIndex("user")])
		c.Message = strings.TrimSpace(m[startPattern.SubexpIndex("message")])
		return c
	}

	if c.System {
		c.Kind = KindSystem
	}
	return c
}

// IsSystemText reports whether s matches any system-notification pattern.
func IsSystemText(s string) bool {
	for _, p := range systemPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// IsMedia reports whether a message body is only a media placeholder.
func IsMedia(message string) bool {
	return mediaPattern.MatchString(message)
}

// splitPrefix strips a leading "date, time -" from a line.
func splitPrefix(line string) (date, clock, payload string, ok bool) {
	m := prefixPattern.FindStringSubmatch(line)
	if m == nil {
		return "", "", "", false
	}
	return m[prefixPattern.SubexpIndex("date")],
		m[prefixPattern.SubexpIndex("time")],
		m[prefixPattern.SubexpIndex("payload")],
		true
}
