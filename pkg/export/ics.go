package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// ICSEvent describes a single VEVENT entry.
type ICSEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string
	URL         string
	Organizer   string
	Attendees   []string
	Start       time.Time
	End         time.Time
}

// ICSExporter renders calendar events as an iCalendar document.
type ICSExporter struct {
	ProductID string
	Name      string
}

// NewICSExporter constructs an ICS exporter with sensible defaults.
func NewICSExporter(name string) *ICSExporter {
	return &ICSExporter{
		ProductID: "-//campushub//thesis-api//EN",
		Name:      name,
	}
}

// Render produces an iCalendar document containing the given events.
func (e *ICSExporter) Render(events []ICSEvent) []byte {
	buf := &bytes.Buffer{}
	writeLine(buf, "BEGIN:VCALENDAR")
	writeLine(buf, "VERSION:2.0")
	writeLine(buf, "PRODID:"+escapeICS(e.ProductID))
	writeLine(buf, "METHOD:PUBLISH")
	if e.Name != "" {
		writeLine(buf, "X-WR-CALNAME:"+escapeICS(e.Name))
	}
	for _, event := range events {
		e.writeEvent(buf, event)
	}
	writeLine(buf, "END:VCALENDAR")
	return buf.Bytes()
}

func (e *ICSExporter) writeEvent(buf *bytes.Buffer, event ICSEvent) {
	writeLine(buf, "BEGIN:VEVENT")
	writeLine(buf, "UID:"+escapeICS(event.UID))
	writeLine(buf, "DTSTAMP:"+formatICSTime(time.Now().UTC()))
	writeLine(buf, "DTSTART:"+formatICSTime(event.Start.UTC()))
	writeLine(buf, "DTEND:"+formatICSTime(event.End.UTC()))
	writeLine(buf, "SUMMARY:"+escapeICS(event.Summary))
	if event.Description != "" {
		writeLine(buf, "DESCRIPTION:"+escapeICS(event.Description))
	}
	if event.Location != "" {
		writeLine(buf, "LOCATION:"+escapeICS(event.Location))
	}
	if event.URL != "" {
		writeLine(buf, "URL:"+escapeICS(event.URL))
	}
	if event.Organizer != "" {
		writeLine(buf, fmt.Sprintf("ORGANIZER:mailto:%s", escapeICS(event.Organizer)))
	}
	for _, attendee := range event.Attendees {
		writeLine(buf, fmt.Sprintf("ATTENDEE;RSVP=TRUE:mailto:%s", escapeICS(attendee)))
	}
	writeLine(buf, "END:VEVENT")
}

func formatICSTime(t time.Time) string {
	return t.Format("20060102T150405Z")
}

// Folding per RFC 5545: content lines longer than 75 octets continue on
// the next line prefixed with a space.
func writeLine(buf *bytes.Buffer, line string) {
	const limit = 75
	for len(line) > limit {
		buf.WriteString(line[:limit])
		buf.WriteString("\r\n ")
		line = line[limit:]
	}
	buf.WriteString(line)
	buf.WriteString("\r\n")
}

func escapeICS(value string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\r\n", "\\n",
		"\n", "\\n",
	)
	return replacer.Replace(value)
}
