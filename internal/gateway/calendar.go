package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campushub/thesis-api/pkg/config"
	"github.com/campushub/thesis-api/pkg/export"
)

// CalendarEvent is the transport-neutral shape of a presentation slot.
type CalendarEvent struct {
	Summary     string
	Description string
	Location    string
	URL         string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// Calendar pushes events to an external calendar server. CreateEvent
// returns an opaque event id; callers store it and pass it back to
// UpdateEvent and DeleteEvent verbatim.
type Calendar interface {
	CreateEvent(ctx context.Context, event CalendarEvent) (string, error)
	UpdateEvent(ctx context.Context, eventID string, event CalendarEvent) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// CalDAVCalendar talks to a CalDAV-style server by PUTting rendered ICS
// documents, one resource per event.
type CalDAVCalendar struct {
	cfg      config.CalendarConfig
	client   *http.Client
	exporter *export.ICSExporter
	logger   *zap.Logger
}

// NewCalDAVCalendar constructs the calendar client.
func NewCalDAVCalendar(cfg config.CalendarConfig, logger *zap.Logger) *CalDAVCalendar {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CalDAVCalendar{
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		exporter: export.NewICSExporter(""),
		logger:   logger,
	}
}

// CreateEvent uploads the event and returns the generated resource id.
func (c *CalDAVCalendar) CreateEvent(ctx context.Context, event CalendarEvent) (string, error) {
	eventID := uuid.NewString()
	body := c.exporter.Render([]export.ICSEvent{{
		UID:         eventID,
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		URL:         event.URL,
		Start:       event.Start,
		End:         event.End,
		Attendees:   event.Attendees,
	}})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resourceURL(eventID), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")
	c.authorize(req)

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create calendar event: %w", err)
	}
	defer drainAndClose(res.Body)

	if res.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("create calendar event: status %d", res.StatusCode)
	}
	return eventID, nil
}

// UpdateEvent replaces the event resource in place. PUTting to the same
// resource URL with the same UID overwrites the stored event.
func (c *CalDAVCalendar) UpdateEvent(ctx context.Context, eventID string, event CalendarEvent) error {
	body := c.exporter.Render([]export.ICSEvent{{
		UID:         eventID,
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		URL:         event.URL,
		Start:       event.Start,
		End:         event.End,
		Attendees:   event.Attendees,
	}})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resourceURL(eventID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")
	c.authorize(req)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("update calendar event: %w", err)
	}
	defer drainAndClose(res.Body)

	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("update calendar event: status %d", res.StatusCode)
	}
	return nil
}

// DeleteEvent removes the event resource. A 404 counts as success so
// retried deletions stay idempotent.
func (c *CalDAVCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.resourceURL(eventID), nil)
	if err != nil {
		return fmt.Errorf("build calendar request: %w", err)
	}
	c.authorize(req)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	defer drainAndClose(res.Body)

	if res.StatusCode >= http.StatusBadRequest && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete calendar event: status %d", res.StatusCode)
	}
	return nil
}

func (c *CalDAVCalendar) resourceURL(eventID string) string {
	return fmt.Sprintf("%s/%s.ics", c.cfg.BaseURL, eventID)
}

func (c *CalDAVCalendar) authorize(req *http.Request) {
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// NoopCalendar is used when calendar sync is disabled. It hands out ids
// so the rest of the flow behaves uniformly.
type NoopCalendar struct{}

func (NoopCalendar) CreateEvent(context.Context, CalendarEvent) (string, error) {
	return uuid.NewString(), nil
}

func (NoopCalendar) UpdateEvent(context.Context, string, CalendarEvent) error { return nil }

func (NoopCalendar) DeleteEvent(context.Context, string) error { return nil }

// NewCalendar returns the CalDAV client when sync is enabled and a noop
// otherwise.
func NewCalendar(cfg config.CalendarConfig, logger *zap.Logger) Calendar {
	if cfg.Enabled {
		return NewCalDAVCalendar(cfg, logger)
	}
	return NoopCalendar{}
}
