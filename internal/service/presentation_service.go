package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campushub/thesis-api/internal/dto"
	"github.com/campushub/thesis-api/internal/gateway"
	"github.com/campushub/thesis-api/internal/models"
	"github.com/campushub/thesis-api/pkg/config"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
	"github.com/campushub/thesis-api/pkg/export"
)

type presentationStore interface {
	Create(ctx context.Context, presentation *models.Presentation) error
	GetByID(ctx context.Context, id string) (*models.Presentation, error)
	List(ctx context.Context, filter models.PresentationFilter) ([]models.Presentation, error)
	UpdateDrafted(ctx context.Context, presentation *models.Presentation) error
	Schedule(ctx context.Context, id string, at time.Time) error
	SetCalendarEventID(ctx context.Context, id string, eventID *string) error
	DeleteInvites(ctx context.Context, presentationID string) error
	Delete(ctx context.Context, id string) error
}

type presentationThesisStore interface {
	GetByID(ctx context.Context, id string) (*models.Thesis, error)
}

type presentationUserStore interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type feedCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

const feedCacheKey = "presentations:feed:ics"

// PresentationService schedules thesis presentations and keeps the
// external calendar in sync.
type PresentationService struct {
	presentations presentationStore
	theses        presentationThesisStore
	users         presentationUserStore
	calendar      gateway.Calendar
	mailer        notifier
	cache         feedCache
	tx            transactor
	cfg           config.PresentationsConfig
	feedCfg       config.FeedConfig
	exporter      *export.ICSExporter
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
}

// WithMetrics attaches the metrics sink. A nil sink disables counting.
func (s *PresentationService) WithMetrics(metrics *MetricsService) *PresentationService {
	s.metrics = metrics
	return s
}

// NewPresentationService constructs a PresentationService instance.
func NewPresentationService(presentations presentationStore, theses presentationThesisStore, users presentationUserStore, calendar gateway.Calendar, mailer notifier, cache feedCache, tx transactor, cfg config.PresentationsConfig, feedCfg config.FeedConfig, validate *validator.Validate, logger *zap.Logger) *PresentationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &PresentationService{
		presentations: presentations,
		theses:        theses,
		users:         users,
		calendar:      calendar,
		mailer:        mailer,
		cache:         cache,
		tx:            tx,
		cfg:           cfg,
		feedCfg:       feedCfg,
		exporter:      export.NewICSExporter("Thesis presentations"),
		validator:     validate,
		logger:        logger,
	}
}

// Create drafts a presentation slot for a thesis.
func (s *PresentationService) Create(ctx context.Context, actor models.User, req dto.CreatePresentationRequest) (*models.Presentation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid presentation payload")
	}
	if req.ScheduledAt.Before(time.Now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "presentations cannot be scheduled in the past")
	}

	thesis, err := s.loadThesis(ctx, req.ThesisID)
	if err != nil {
		return nil, err
	}
	if !HasAdvisorAccess(actor, thesis) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only advisors can draft presentations")
	}
	if thesis.State.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot add presentations to a finished thesis")
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = int(s.cfg.DefaultDuration.Minutes())
	}

	presentation := &models.Presentation{
		ThesisID:        req.ThesisID,
		Type:            req.Type,
		Visibility:      req.Visibility,
		State:           models.PresentationStateDrafted,
		Language:        req.Language,
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: duration,
		CreatedBy:       actor.ID,
	}
	if req.Location != "" {
		presentation.Location = &req.Location
	}
	if req.StreamURL != "" {
		presentation.StreamURL = &req.StreamURL
	}
	for _, email := range req.InviteEmails {
		presentation.Invites = append(presentation.Invites, models.PresentationInvite{Email: email})
	}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.presentations.Create(ctx, presentation)
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create presentation")
	}
	return presentation, nil
}

// Get returns a presentation the actor may see.
func (s *PresentationService) Get(ctx context.Context, actor models.User, presentationID string) (*models.Presentation, error) {
	presentation, err := s.load(ctx, presentationID)
	if err != nil {
		return nil, err
	}
	if presentation.Visibility == models.PresentationVisibilityPublic {
		return presentation, nil
	}
	thesis, err := s.loadThesis(ctx, presentation.ThesisID)
	if err != nil {
		return nil, err
	}
	if !HasReadAccess(actor, thesis) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this presentation")
	}
	return presentation, nil
}

// List returns presentations matching the query. Non-staff only see
// public entries unless scoped to a thesis they can read.
func (s *PresentationService) List(ctx context.Context, actor models.User, query dto.PresentationListQuery) ([]models.Presentation, error) {
	filter := models.PresentationFilter{
		ThesisID: query.ThesisID,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	for _, value := range query.Type {
		filter.Types = append(filter.Types, models.PresentationType(value))
	}
	for _, value := range query.Visibility {
		filter.Visibilities = append(filter.Visibilities, models.PresentationVisibility(value))
	}
	for _, value := range query.State {
		filter.States = append(filter.States, models.PresentationState(value))
	}

	if query.ThesisID != "" {
		thesis, err := s.loadThesis(ctx, query.ThesisID)
		if err != nil {
			return nil, err
		}
		if !HasReadAccess(actor, thesis) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this thesis")
		}
	} else if !actor.InGroup(models.GroupAdmin) && !actor.InGroup(models.GroupSupervisor) && !actor.InGroup(models.GroupAdvisor) {
		filter.Visibilities = []models.PresentationVisibility{models.PresentationVisibilityPublic}
	}

	presentations, err := s.presentations.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list presentations")
	}
	return presentations, nil
}

// Update reschedules a drafted presentation. SCHEDULED presentations
// cannot be rescheduled; the caller gets a conflict and has to delete
// and draft a new slot instead.
func (s *PresentationService) Update(ctx context.Context, actor models.User, presentationID string, req dto.UpdatePresentationRequest) (*models.Presentation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid presentation payload")
	}
	if req.ScheduledAt.Before(time.Now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "presentations cannot be scheduled in the past")
	}

	presentation, err := s.load(ctx, presentationID)
	if err != nil {
		return nil, err
	}
	thesis, err := s.loadThesis(ctx, presentation.ThesisID)
	if err != nil {
		return nil, err
	}
	if !HasAdvisorAccess(actor, thesis) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only advisors can reschedule presentations")
	}
	if presentation.State != models.PresentationStateDrafted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "scheduled presentations cannot be rescheduled")
	}

	presentation.Location = nil
	if req.Location != "" {
		presentation.Location = &req.Location
	}
	presentation.StreamURL = nil
	if req.StreamURL != "" {
		presentation.StreamURL = &req.StreamURL
	}
	presentation.Language = req.Language
	presentation.ScheduledAt = req.ScheduledAt.UTC()
	if req.DurationMinutes > 0 {
		presentation.DurationMinutes = req.DurationMinutes
	}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.presentations.UpdateDrafted(ctx, presentation)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "scheduled presentations cannot be rescheduled")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update presentation")
	}

	// A draft normally has no calendar handle yet; if one exists the
	// remote event is rewritten so both sides stay consistent.
	if presentation.CalendarEventID != nil {
		if err := s.calendar.UpdateEvent(ctx, *presentation.CalendarEventID, s.calendarEvent(thesis, presentation)); err != nil {
			s.logger.Error("failed to update calendar event",
				zap.String("presentationId", presentation.ID),
				zap.String("calendarEventId", *presentation.CalendarEventID),
				zap.Error(err))
			s.metrics.RecordGatewayFailure("calendar")
		}
	}

	s.invalidateFeed(ctx, presentation)
	return presentation, nil
}

// Schedule confirms a drafted presentation. Public presentations are
// pushed to the external calendar; a sync failure leaves the
// presentation scheduled without a calendar handle and is only logged.
func (s *PresentationService) Schedule(ctx context.Context, actor models.User, presentationID string) (*models.Presentation, error) {
	presentation, err := s.load(ctx, presentationID)
	if err != nil {
		return nil, err
	}
	thesis, err := s.loadThesis(ctx, presentation.ThesisID)
	if err != nil {
		return nil, err
	}
	if !HasAdvisorAccess(actor, thesis) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only advisors can schedule presentations")
	}

	now := time.Now().UTC()
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.presentations.Schedule(ctx, presentationID, now)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "presentation is already scheduled")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule presentation")
	}
	presentation.State = models.PresentationStateScheduled
	s.metrics.RecordPresentationScheduled()

	if presentation.Visibility == models.PresentationVisibilityPublic {
		eventID, err := s.calendar.CreateEvent(ctx, s.calendarEvent(thesis, presentation))
		if err != nil {
			s.logger.Error("failed to create calendar event",
				zap.String("presentationId", presentation.ID),
				zap.Error(err))
			s.metrics.RecordGatewayFailure("calendar")
		} else {
			if err := s.presentations.SetCalendarEventID(ctx, presentation.ID, &eventID); err != nil {
				s.logger.Error("failed to store calendar event id",
					zap.String("presentationId", presentation.ID),
					zap.Error(err))
			} else {
				presentation.CalendarEventID = &eventID
			}
		}
	}

	s.invalidateFeed(ctx, presentation)
	s.notifyScheduled(ctx, thesis, presentation)
	return presentation, nil
}

// Delete removes a presentation. Invites go first, then the row, then
// exactly one calendar delete attempt; a failed calendar delete is
// logged and the handle is dropped with the row.
func (s *PresentationService) Delete(ctx context.Context, actor models.User, presentationID string) error {
	presentation, err := s.load(ctx, presentationID)
	if err != nil {
		return err
	}
	thesis, err := s.loadThesis(ctx, presentation.ThesisID)
	if err != nil {
		return err
	}
	if !HasAdvisorAccess(actor, thesis) {
		return appErrors.Clone(appErrors.ErrForbidden, "only advisors can delete presentations")
	}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.presentations.DeleteInvites(ctx, presentationID); err != nil {
			return err
		}
		return s.presentations.Delete(ctx, presentationID)
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete presentation")
	}

	if presentation.CalendarEventID != nil {
		if err := s.calendar.DeleteEvent(ctx, *presentation.CalendarEventID); err != nil {
			s.logger.Error("failed to delete calendar event",
				zap.String("presentationId", presentation.ID),
				zap.String("calendarEventId", *presentation.CalendarEventID),
				zap.Error(err))
			s.metrics.RecordGatewayFailure("calendar")
		}
	}

	s.invalidateFeed(ctx, presentation)
	s.notifyDeleted(ctx, thesis, presentation)
	return nil
}

// Feed renders the public ICS feed of scheduled presentations. The
// rendered document is cached.
func (s *PresentationService) Feed(ctx context.Context) ([]byte, error) {
	var cached []byte
	if hit, err := s.cache.Get(ctx, feedCacheKey, &cached); err == nil && hit && len(cached) > 0 {
		return cached, nil
	}

	presentations, err := s.presentations.List(ctx, models.PresentationFilter{
		Visibilities: []models.PresentationVisibility{models.PresentationVisibilityPublic},
		States:       []models.PresentationState{models.PresentationStateScheduled},
		PageSize:     200,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feed presentations")
	}

	events := make([]export.ICSEvent, 0, len(presentations))
	for _, presentation := range presentations {
		thesis, err := s.theses.GetByID(ctx, presentation.ThesisID)
		if err != nil {
			s.logger.Warn("skipping feed entry with missing thesis",
				zap.String("presentationId", presentation.ID), zap.Error(err))
			continue
		}
		event := export.ICSEvent{
			UID:     presentation.ID,
			Summary: thesis.Title,
			Start:   presentation.ScheduledAt,
			End:     presentation.ScheduledAt.Add(time.Duration(presentation.DurationMinutes) * time.Minute),
		}
		if presentation.Location != nil {
			event.Location = *presentation.Location
		}
		if presentation.StreamURL != nil {
			event.URL = *presentation.StreamURL
		}
		events = append(events, event)
	}

	rendered := s.exporter.Render(events)
	if err := s.cache.Set(ctx, feedCacheKey, rendered, s.feedCfg.CacheTTL); err != nil {
		s.logger.Warn("feed cache write failed", zap.Error(err))
	}
	return rendered, nil
}

// Only public presentations appear in the feed, so only their changes
// bust the cache.
func (s *PresentationService) invalidateFeed(ctx context.Context, presentation *models.Presentation) {
	if presentation.Visibility != models.PresentationVisibilityPublic {
		return
	}
	if err := s.cache.Invalidate(ctx, feedCacheKey); err != nil {
		s.logger.Warn("feed cache invalidation failed",
			zap.String("presentationId", presentation.ID), zap.Error(err))
	}
}

func (s *PresentationService) load(ctx context.Context, presentationID string) (*models.Presentation, error) {
	presentation, err := s.presentations.GetByID(ctx, presentationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "presentation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load presentation")
	}
	return presentation, nil
}

func (s *PresentationService) loadThesis(ctx context.Context, thesisID string) (*models.Thesis, error) {
	thesis, err := s.theses.GetByID(ctx, thesisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	return thesis, nil
}

func (s *PresentationService) calendarEvent(thesis *models.Thesis, presentation *models.Presentation) gateway.CalendarEvent {
	event := gateway.CalendarEvent{
		Summary:     "Thesis presentation: " + thesis.Title,
		Description: string(presentation.Type) + " presentation",
		Start:       presentation.ScheduledAt,
		End:         presentation.ScheduledAt.Add(time.Duration(presentation.DurationMinutes) * time.Minute),
	}
	if presentation.Location != nil {
		event.Location = *presentation.Location
	}
	if presentation.StreamURL != nil {
		event.URL = *presentation.StreamURL
	}
	for _, invite := range presentation.Invites {
		event.Attendees = append(event.Attendees, invite.Email)
	}
	return event
}

func (s *PresentationService) notifyScheduled(ctx context.Context, thesis *models.Thesis, presentation *models.Presentation) {
	location := ""
	if presentation.Location != nil {
		location = *presentation.Location
	} else if presentation.StreamURL != nil {
		location = *presentation.StreamURL
	}
	scheduledAt := presentation.ScheduledAt.Format(time.RFC1123)

	attachment := s.inviteAttachment(thesis, presentation)

	// Participants by role.
	ids := append(thesis.RoleUserIDs(models.ThesisRoleStudent), thesis.RoleUserIDs(models.ThesisRoleAdvisor)...)
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("failed to resolve presentation recipients",
			zap.String("presentationId", presentation.ID), zap.Error(err))
	}
	for _, user := range users {
		s.send(ctx, gateway.MailMessage{
			To:       []string{user.Email},
			Template: gateway.MailPresentationScheduled,
			Fields: map[string]string{
				"recipientName":    user.FullName(),
				"title":            thesis.Title,
				"presentationType": string(presentation.Type),
				"scheduledAt":      scheduledAt,
				"location":         location,
			},
			Attachments: attachment,
		}, presentation.ID)
	}

	// External invitees.
	for _, invite := range presentation.Invites {
		s.send(ctx, gateway.MailMessage{
			To:       []string{invite.Email},
			Template: gateway.MailPresentationInvitation,
			Fields: map[string]string{
				"title":            thesis.Title,
				"presentationType": string(presentation.Type),
				"scheduledAt":      scheduledAt,
				"location":         location,
			},
			Attachments: attachment,
		}, presentation.ID)
	}
}

func (s *PresentationService) notifyDeleted(ctx context.Context, thesis *models.Thesis, presentation *models.Presentation) {
	scheduledAt := presentation.ScheduledAt.Format(time.RFC1123)
	ids := thesis.RoleUserIDs(models.ThesisRoleStudent)
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("failed to resolve cancellation recipients",
			zap.String("presentationId", presentation.ID), zap.Error(err))
	}
	for _, user := range users {
		s.send(ctx, gateway.MailMessage{
			To:       []string{user.Email},
			Template: gateway.MailPresentationDeleted,
			Fields: map[string]string{
				"recipientName": user.FullName(),
				"title":         thesis.Title,
				"scheduledAt":   scheduledAt,
			},
		}, presentation.ID)
	}
	for _, invite := range presentation.Invites {
		s.send(ctx, gateway.MailMessage{
			To:       []string{invite.Email},
			Template: gateway.MailPresentationDeleted,
			Fields: map[string]string{
				"recipientName": invite.Email,
				"title":         thesis.Title,
				"scheduledAt":   scheduledAt,
			},
		}, presentation.ID)
	}
}

func (s *PresentationService) inviteAttachment(thesis *models.Thesis, presentation *models.Presentation) []gateway.MailAttachment {
	event := export.ICSEvent{
		UID:     presentation.ID,
		Summary: "Thesis presentation: " + thesis.Title,
		Start:   presentation.ScheduledAt,
		End:     presentation.ScheduledAt.Add(time.Duration(presentation.DurationMinutes) * time.Minute),
	}
	if presentation.Location != nil {
		event.Location = *presentation.Location
	}
	if presentation.StreamURL != nil {
		event.URL = *presentation.StreamURL
	}
	return []gateway.MailAttachment{{
		Filename:    "presentation.ics",
		ContentType: "text/calendar",
		Content:     s.exporter.Render([]export.ICSEvent{event}),
	}}
}

func (s *PresentationService) send(ctx context.Context, msg gateway.MailMessage, presentationID string) {
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send presentation mail",
			zap.String("template", string(msg.Template)),
			zap.String("presentationId", presentationID),
			zap.Error(err))
	}
}
