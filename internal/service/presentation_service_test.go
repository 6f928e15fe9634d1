package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/thesis-api/internal/dto"
	"github.com/campushub/thesis-api/internal/gateway"
	"github.com/campushub/thesis-api/internal/models"
	"github.com/campushub/thesis-api/pkg/config"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
)

type presentationStoreStub struct {
	createFn     func(ctx context.Context, presentation *models.Presentation) error
	getFn        func(ctx context.Context, id string) (*models.Presentation, error)
	listFn       func(ctx context.Context, filter models.PresentationFilter) ([]models.Presentation, error)
	updateFn     func(ctx context.Context, presentation *models.Presentation) error
	scheduleFn   func(ctx context.Context, id string, at time.Time) error
	setEventFn   func(ctx context.Context, id string, eventID *string) error
	delInvitesFn func(ctx context.Context, presentationID string) error
	deleteFn     func(ctx context.Context, id string) error
}

func (s *presentationStoreStub) Create(ctx context.Context, presentation *models.Presentation) error {
	if s.createFn != nil {
		return s.createFn(ctx, presentation)
	}
	presentation.ID = "p-generated"
	return nil
}

func (s *presentationStoreStub) GetByID(ctx context.Context, id string) (*models.Presentation, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func (s *presentationStoreStub) List(ctx context.Context, filter models.PresentationFilter) ([]models.Presentation, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *presentationStoreStub) UpdateDrafted(ctx context.Context, presentation *models.Presentation) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, presentation)
	}
	return nil
}

func (s *presentationStoreStub) Schedule(ctx context.Context, id string, at time.Time) error {
	if s.scheduleFn != nil {
		return s.scheduleFn(ctx, id, at)
	}
	return nil
}

func (s *presentationStoreStub) SetCalendarEventID(ctx context.Context, id string, eventID *string) error {
	if s.setEventFn != nil {
		return s.setEventFn(ctx, id, eventID)
	}
	return nil
}

func (s *presentationStoreStub) DeleteInvites(ctx context.Context, presentationID string) error {
	if s.delInvitesFn != nil {
		return s.delInvitesFn(ctx, presentationID)
	}
	return nil
}

func (s *presentationStoreStub) Delete(ctx context.Context, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id)
	}
	return nil
}

type presentationThesisStub struct {
	getFn func(ctx context.Context, id string) (*models.Thesis, error)
}

func (s *presentationThesisStub) GetByID(ctx context.Context, id string) (*models.Thesis, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func presentationFixture(visibility models.PresentationVisibility, state models.PresentationState) *models.Presentation {
	return &models.Presentation{
		ID:              "p1",
		ThesisID:        "th1",
		Type:            models.PresentationTypeFinal,
		Visibility:      visibility,
		State:           state,
		Language:        "en",
		ScheduledAt:     time.Now().UTC().Add(48 * time.Hour),
		DurationMinutes: 45,
		CreatedBy:       "adv1",
	}
}

func newPresentationService(presentations *presentationStoreStub, theses *presentationThesisStub, calendar *calendarRecorder, mailer *mailRecorder, cache *cacheRecorder) *PresentationService {
	return NewPresentationService(
		presentations,
		theses,
		lifecycleDirectory(),
		calendar,
		mailer,
		cache,
		&passTx{},
		config.PresentationsConfig{DefaultDuration: 45 * time.Minute},
		config.FeedConfig{CacheTTL: 5 * time.Minute},
		nil,
		nil,
	)
}

func advisorActor() models.User {
	return models.User{ID: "adv1", Groups: models.GroupList{models.GroupAdvisor}}
}

func TestSchedulePublicPresentationSyncsCalendar(t *testing.T) {
	presentation := presentationFixture(models.PresentationVisibilityPublic, models.PresentationStateDrafted)
	presentation.Invites = []models.PresentationInvite{{Email: "guest@example.org"}}
	thesis := lifecycleThesis(models.ThesisStateSubmitted)

	var storedEventID *string
	presentations := &presentationStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Presentation, error) { return presentation, nil },
		setEventFn: func(_ context.Context, _ string, eventID *string) error {
			storedEventID = eventID
			return nil
		},
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
	}
	calendar := &calendarRecorder{eventID: "evt-42"}
	mailer := &mailRecorder{}
	cache := &cacheRecorder{data: map[string][]byte{feedCacheKey: []byte("stale")}}

	svc := newPresentationService(presentations, theses, calendar, mailer, cache)
	scheduled, err := svc.Schedule(context.Background(), advisorActor(), "p1")
	require.NoError(t, err)

	assert.Equal(t, models.PresentationStateScheduled, scheduled.State)
	assert.Equal(t, 1, calendar.created)
	require.NotNil(t, storedEventID)
	assert.Equal(t, "evt-42", *storedEventID)
	require.NotNil(t, scheduled.CalendarEventID)
	assert.Equal(t, "evt-42", *scheduled.CalendarEventID)

	// The public feed cache is busted on schedule.
	assert.Equal(t, 1, cache.invalidated)

	// Student, advisor and the external invitee are notified.
	require.Len(t, mailer.sent, 3)
	assert.Equal(t, gateway.MailPresentationInvitation, mailer.sent[2].Template)
	assert.Equal(t, []string{"guest@example.org"}, mailer.sent[2].To)
	for _, msg := range mailer.sent {
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, "text/calendar", msg.Attachments[0].ContentType)
	}
}

func TestUpdateReschedulesDraftedSlot(t *testing.T) {
	presentation := presentationFixture(models.PresentationVisibilityPublic, models.PresentationStateDrafted)
	thesis := lifecycleThesis(models.ThesisStateSubmitted)

	var updated *models.Presentation
	presentations := &presentationStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Presentation, error) { return presentation, nil },
		updateFn: func(_ context.Context, p *models.Presentation) error {
			updated = p
			return nil
		},
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
	}
	cache := &cacheRecorder{data: map[string][]byte{feedCacheKey: []byte("stale")}}

	svc := newPresentationService(presentations, theses, &calendarRecorder{}, &mailRecorder{}, cache)
	newSlot := time.Now().UTC().Add(96 * time.Hour).Truncate(time.Second)
	got, err := svc.Update(context.Background(), advisorActor(), "p1", dto.UpdatePresentationRequest{
		Location:        "Room 202",
		Language:        "de",
		ScheduledAt:     newSlot,
		DurationMinutes: 60,
	})
	require.NoError(t, err)

	require.NotNil(t, updated)
	assert.Equal(t, newSlot, got.ScheduledAt)
	assert.Equal(t, 60, got.DurationMinutes)
	require.NotNil(t, got.Location)
	assert.Equal(t, "Room 202", *got.Location)
	assert.Equal(t, "de", got.Language)

	// Rescheduling a public slot busts the feed cache.
	assert.Equal(t, 1, cache.invalidated)
}

func TestUpdateScheduledPresentationConflicts(t *testing.T) {
	presentation := presentationFixture(models.PresentationVisibilityPublic, models.PresentationStateScheduled)
	presentations := &presentationStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Presentation, error) { return presentation, nil },
		updateFn: func(_ context.Context, _ *models.Presentation) error {
			t.Fatal("a scheduled presentation must not be rewritten")
			return nil
		},
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) {
			return lifecycleThesis(models.ThesisStateSubmitted), nil
		},
	}

	svc := newPresentationService(presentations, theses, &calendarRecorder{}, &mailRecorder{}, &cacheRecorder{})
	_, err := svc.Update(context.Background(), advisorActor(), "p1", dto.UpdatePresentationRequest{
		ScheduledAt: time.Now().Add(24 * time.Hour),
	})
	assert.Equal(t, appErrors.ErrConflict.Code, appErrCode(t, err))
}

func TestUpdateConcurrentScheduleConflicts(t *testing.T) {
	presentation := presentationFixture(models.PresentationVisibilityPublic, models.PresentationStateDrafted)
	presentations := &presentationStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Presentation, error) { return presentation, nil },
		// The state guard loses the race against a concurrent schedule.
		updateFn: func(_ context.Context, _ *models.Presentation) error { return sql.ErrNoRows },
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) {
			return lifecycleThesis(models.ThesisStateSubmitted), nil
		},
	}

	svc := newPresentationService(presentations, theses, &calendarRecorder{}, &mailRecorder{}, &cacheRecorder{})
	_, err := svc.Update(context.Background(), advisorActor(), "p1", dto.UpdatePresentationRequest{
		ScheduledAt: time.Now().Add(24 * time.Hour),
	})
	assert.Equal(t, appErrors.ErrConflict.Code, appErrCode(t, err))
}

func TestUpdateRewritesExistingCalendarEvent(t *testing.T) {
	presentation := presentationFixture(models.PresentationVisibilityPublic, models.PresentationStateDrafted)
	eventID := "evt-42"
	presentation.CalendarEventID = &eventID

	presentations := &presentationStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Presentation, error) { return presentation, nil },
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) {
			return lifecycleThesis(models.ThesisStateSubmitted), nil
		},
	}
	calendar := &calendarRecorder{}

	svc := newPresentationService(presentations, theses, calendar, &mailRecorder{}, &cacheRecorder{})
	_, err := svc.Update(context.Background(), advisorActor(), "p1", dto.UpdatePresentationRequest{
		ScheduledAt: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-42"}, calendar.updated)
}

func TestGetPublicPresentationAllowsAnonymous(t *testing.T) {
	presentation := presentationFixture(models.PresentationVisibilityPublic, models.PresentationStateScheduled)
	presentations := &presentationStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Presentation, error) { return presentation, nil },
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) {
			t.Fatal("public presentations must not require a thesis access check")
			return nil, nil
		},
	}

	svc := newPresentationService(presentations, theses, &calendarRecorder{}, &mailRecorder{}, &cacheRecorder{})
	got, err := svc.Get(context.Background(), models.User{}, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
}

func TestScheduleAlreadyScheduledConflict(t *testing.T) {
	presentation := presentationFixture(models.PresentationVisibilityPublic, models.PresentationStateScheduled)
	presentations := &presentationStoreStub{
		getFn:      func(_ context.Context, _ string) (*models.Presentation, error) { return presentation, nil },
		scheduleFn: func(_ context.Context, _ string, _ time.Time) error { return sql.ErrNoRows },
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) {
			return lifecycleThesis(models.ThesisStateSubmitted), nil
		},
	}
	calendar := &calendarRecorder{}

	svc := newPresentationService(presentations, theses, calendar, &mailRecorder{}, &cacheRecorder{})
	_, err := svc.Schedule(context.Background(), advisorActor(), "p1")
	assert.Equal(t, appErrors.ErrConflict.Code, appErrCode(t, err))
	assert.Zero(t, calendar.created)
}

func TestScheduleSurvivesCalendarOutage(t *testing.T) {
	presentation := presentationFixture(models.PresentationVisibilityPublic, models.PresentationStateDrafted)
	presentations := &presentationStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Presentation, error) { return presentation, nil },
		setEventFn: func(_ context.Context, _ string, _ *string) error {
			t.Fatal("no event id must be stored when calendar creation fails")
			return nil
		},
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) {
			return lifecycleThesis(models.ThesisStateSubmitted), nil
		},
	}
	calendar := &calendarRecorder{createErr: errors.New("caldav down")}

	svc := newPresentationService(presentations, theses, calendar, &mailRecorder{}, &cacheRecorder{})
	scheduled, err := svc.Schedule(context.Background(), advisorActor(), "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PresentationStateScheduled, scheduled.State)
	assert.Nil(t, scheduled.CalendarEventID)
}

func TestDeleteAttemptsCalendarDeleteExactlyOnce(t *testing.T) {
	presentation := presentationFixture(models.PresentationVisibilityPublic, models.PresentationStateScheduled)
	eventID := "evt-42"
	presentation.CalendarEventID = &eventID

	presentations := &presentationStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Presentation, error) { return presentation, nil },
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) {
			return lifecycleThesis(models.ThesisStateSubmitted), nil
		},
	}
	calendar := &calendarRecorder{deleteErr: errors.New("caldav down")}
	cache := &cacheRecorder{}

	svc := newPresentationService(presentations, theses, calendar, &mailRecorder{}, cache)
	err := svc.Delete(context.Background(), advisorActor(), "p1")
	require.NoError(t, err)

	// A failed calendar delete is logged and never retried.
	assert.Equal(t, []string{"evt-42"}, calendar.deleted)
	assert.Equal(t, 1, cache.invalidated)
}

func TestDeletePrivatePresentationKeepsFeedCache(t *testing.T) {
	presentation := presentationFixture(models.PresentationVisibilityPrivate, models.PresentationStateScheduled)
	presentations := &presentationStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Presentation, error) { return presentation, nil },
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) {
			return lifecycleThesis(models.ThesisStateSubmitted), nil
		},
	}
	calendar := &calendarRecorder{}
	cache := &cacheRecorder{}

	svc := newPresentationService(presentations, theses, calendar, &mailRecorder{}, cache)
	err := svc.Delete(context.Background(), advisorActor(), "p1")
	require.NoError(t, err)

	assert.Empty(t, calendar.deleted)
	assert.Zero(t, cache.invalidated)
}

func TestFeedServedFromCache(t *testing.T) {
	cached := []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")
	cache := &cacheRecorder{data: map[string][]byte{feedCacheKey: cached}}
	presentations := &presentationStoreStub{
		listFn: func(_ context.Context, _ models.PresentationFilter) ([]models.Presentation, error) {
			t.Fatal("a cache hit must not hit the store")
			return nil, nil
		},
	}

	svc := newPresentationService(presentations, &presentationThesisStub{}, &calendarRecorder{}, &mailRecorder{}, cache)
	feed, err := svc.Feed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cached, feed)
}

func TestFeedRendersPublicScheduledAndCaches(t *testing.T) {
	presentation := *presentationFixture(models.PresentationVisibilityPublic, models.PresentationStateScheduled)
	location := "Room 101"
	presentation.Location = &location

	var captured models.PresentationFilter
	presentations := &presentationStoreStub{
		listFn: func(_ context.Context, filter models.PresentationFilter) ([]models.Presentation, error) {
			captured = filter
			return []models.Presentation{presentation}, nil
		},
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) {
			return lifecycleThesis(models.ThesisStateSubmitted), nil
		},
	}
	cache := &cacheRecorder{}

	svc := newPresentationService(presentations, theses, &calendarRecorder{}, &mailRecorder{}, cache)
	feed, err := svc.Feed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.PresentationVisibility{models.PresentationVisibilityPublic}, captured.Visibilities)
	assert.Equal(t, []models.PresentationState{models.PresentationStateScheduled}, captured.States)

	document := string(feed)
	assert.True(t, strings.HasPrefix(document, "BEGIN:VCALENDAR"))
	assert.Contains(t, document, "SUMMARY:Raft variants")
	assert.Contains(t, document, "LOCATION:Room 101")
	assert.Equal(t, feed, cache.data[feedCacheKey])
}

func TestCreateDefaultsDurationFromConfig(t *testing.T) {
	var created *models.Presentation
	presentations := &presentationStoreStub{
		createFn: func(_ context.Context, presentation *models.Presentation) error {
			presentation.ID = "p1"
			created = presentation
			return nil
		},
	}
	theses := &presentationThesisStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) {
			return lifecycleThesis(models.ThesisStateSubmitted), nil
		},
	}

	svc := newPresentationService(presentations, theses, &calendarRecorder{}, &mailRecorder{}, &cacheRecorder{})
	_, err := svc.Create(context.Background(), advisorActor(), dto.CreatePresentationRequest{
		ThesisID:    "th1",
		Type:        models.PresentationTypeFinal,
		Visibility:  models.PresentationVisibilityPublic,
		ScheduledAt: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, 45, created.DurationMinutes)
	assert.Equal(t, models.PresentationStateDrafted, created.State)
}

func TestCreateRefusesPastSlot(t *testing.T) {
	svc := newPresentationService(&presentationStoreStub{}, &presentationThesisStub{}, &calendarRecorder{}, &mailRecorder{}, &cacheRecorder{})

	_, err := svc.Create(context.Background(), advisorActor(), dto.CreatePresentationRequest{
		ThesisID:    "th1",
		Type:        models.PresentationTypeFinal,
		Visibility:  models.PresentationVisibilityPublic,
		ScheduledAt: time.Now().Add(-time.Hour),
	})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrCode(t, err))
}

func TestListLimitsOutsidersToPublic(t *testing.T) {
	var captured models.PresentationFilter
	presentations := &presentationStoreStub{
		listFn: func(_ context.Context, filter models.PresentationFilter) ([]models.Presentation, error) {
			captured = filter
			return nil, nil
		},
	}

	svc := newPresentationService(presentations, &presentationThesisStub{}, &calendarRecorder{}, &mailRecorder{}, &cacheRecorder{})
	outsider := models.User{ID: "other", Groups: models.GroupList{models.GroupStudent}}
	_, err := svc.List(context.Background(), outsider, dto.PresentationListQuery{})
	require.NoError(t, err)
	assert.Equal(t, []models.PresentationVisibility{models.PresentationVisibilityPublic}, captured.Visibilities)
}
