package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/campushub/thesis-api/internal/gateway"
	"github.com/campushub/thesis-api/internal/models"
)

// userDirectoryStub resolves users from a fixed map.
type userDirectoryStub struct {
	users map[string]models.User
	err   error
}

func (s *userDirectoryStub) FindByID(_ context.Context, id string) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if user, ok := s.users[id]; ok {
		return &user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userDirectoryStub) FindByIDs(_ context.Context, ids []string) ([]models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.User
	for _, id := range ids {
		if user, ok := s.users[id]; ok {
			out = append(out, user)
		}
	}
	return out, nil
}

// passTx runs the callback directly; the store stubs do not care about
// transaction boundaries.
type passTx struct {
	calls int
	err   error
}

func (tx *passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.calls++
	if tx.err != nil {
		return tx.err
	}
	return fn(ctx)
}

// mailRecorder captures outgoing notifications.
type mailRecorder struct {
	sent []gateway.MailMessage
	err  error
}

func (m *mailRecorder) Send(_ context.Context, msg gateway.MailMessage) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *mailRecorder) templates() []gateway.MailTemplate {
	out := make([]gateway.MailTemplate, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.Template)
	}
	return out
}

// identityRecorder captures group mutations pushed to the identity
// provider. Memberships are recorded as "universityID/group".
type identityRecorder struct {
	added     []string
	removed   []string
	groups    []string
	groupsErr error
	mutateErr error
}

func (i *identityRecorder) AddGroup(_ context.Context, universityID, group string) error {
	i.added = append(i.added, universityID+"/"+group)
	return i.mutateErr
}

func (i *identityRecorder) RemoveGroup(_ context.Context, universityID, group string) error {
	i.removed = append(i.removed, universityID+"/"+group)
	return i.mutateErr
}

func (i *identityRecorder) Groups(_ context.Context, _ string) ([]string, error) {
	if i.groupsErr != nil {
		return nil, i.groupsErr
	}
	return i.groups, nil
}

// calendarRecorder counts calendar sync calls.
type calendarRecorder struct {
	created   int
	updated   []string
	deleted   []string
	eventID   string
	createErr error
	updateErr error
	deleteErr error
}

func (c *calendarRecorder) CreateEvent(_ context.Context, _ gateway.CalendarEvent) (string, error) {
	c.created++
	if c.createErr != nil {
		return "", c.createErr
	}
	if c.eventID == "" {
		return "evt-1", nil
	}
	return c.eventID, nil
}

func (c *calendarRecorder) UpdateEvent(_ context.Context, eventID string, _ gateway.CalendarEvent) error {
	c.updated = append(c.updated, eventID)
	return c.updateErr
}

func (c *calendarRecorder) DeleteEvent(_ context.Context, eventID string) error {
	c.deleted = append(c.deleted, eventID)
	return c.deleteErr
}

// cacheRecorder is an in-memory stand-in for the feed cache.
type cacheRecorder struct {
	data        map[string][]byte
	invalidated int
	gets        int
}

func (c *cacheRecorder) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.gets++
	payload, ok := c.data[key]
	if !ok {
		return false, nil
	}
	if target, ok := dest.(*[]byte); ok {
		*target = payload
	}
	return true, nil
}

func (c *cacheRecorder) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	if payload, ok := value.([]byte); ok {
		c.data[key] = payload
	}
	return nil
}

func (c *cacheRecorder) Invalidate(_ context.Context, key string) error {
	c.invalidated++
	delete(c.data, key)
	return nil
}
