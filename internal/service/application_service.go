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
	"github.com/campushub/thesis-api/internal/repository"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
)

type applicationStore interface {
	Create(ctx context.Context, application *models.Application) error
	GetByID(ctx context.Context, id string) (*models.Application, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error)
	ListPendingByTopic(ctx context.Context, topicID string) ([]models.Application, error)
	ListPendingByUser(ctx context.Context, userID, excludeID string) ([]models.Application, error)
	Decide(ctx context.Context, params repository.DecideApplicationParams) error
	UpsertReviewerMark(ctx context.Context, mark *models.ReviewerMark) error
	DeleteReviewerMark(ctx context.Context, applicationID, reviewerID string) error
	ListReviewerMarks(ctx context.Context, applicationID string) ([]models.ReviewerMark, error)
}

type applicationTopicStore interface {
	GetByID(ctx context.Context, id string) (*models.Topic, error)
	Close(ctx context.Context, id string, closedAt time.Time) error
}

type applicationThesisStore interface {
	Create(ctx context.Context, thesis *models.Thesis) error
	InsertRoles(ctx context.Context, roles []models.ThesisRole) error
	RecordInitialState(ctx context.Context, thesisID string, state models.ThesisState, changedBy string, at time.Time) error
}

type applicationUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type groupAdder interface {
	AddGroup(ctx context.Context, universityID, group string) error
}

// ApplicationService handles the application board: submissions,
// reviewer triage marks, and the accept/reject decisions with their
// cascades.
type ApplicationService struct {
	applications applicationStore
	topics       applicationTopicStore
	theses       applicationThesisStore
	users        applicationUserStore
	identity     groupAdder
	tx           transactor
	mailer       notifier
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// WithMetrics attaches the metrics sink. Decisions are counted by
// outcome; a nil sink disables counting.
func (s *ApplicationService) WithMetrics(metrics *MetricsService) *ApplicationService {
	s.metrics = metrics
	return s
}

// NewApplicationService constructs an ApplicationService instance.
func NewApplicationService(applications applicationStore, topics applicationTopicStore, theses applicationThesisStore, users applicationUserStore, identity groupAdder, tx transactor, mailer notifier, validate *validator.Validate, logger *zap.Logger) *ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ApplicationService{
		applications: applications,
		topics:       topics,
		theses:       theses,
		users:        users,
		identity:     identity,
		tx:           tx,
		mailer:       mailer,
		validator:    validate,
		logger:       logger,
	}
}

// Submit files a new application for the acting user. Applications
// against closed topics are refused.
func (s *ApplicationService) Submit(ctx context.Context, actor models.User, req dto.CreateApplicationRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}

	if req.TopicID != nil {
		topic, err := s.topics.GetByID(ctx, *req.TopicID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "topic does not exist")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
		}
		if !topic.Open() {
			return nil, appErrors.Clone(appErrors.ErrTopicClosed, "topic no longer accepts applications")
		}
	}

	application := &models.Application{
		UserID:       actor.ID,
		TopicID:      req.TopicID,
		ThesisTitle:  req.ThesisTitle,
		ThesisType:   req.ThesisType,
		Motivation:   req.Motivation,
		DesiredStart: req.DesiredStart,
	}
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.applications.Create(ctx, application)
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}

	s.sendMail(ctx, gateway.MailMessage{
		To:       []string{actor.Email},
		Template: gateway.MailApplicationReceived,
		Fields: map[string]string{
			"recipientName": actor.FullName(),
			"title":         application.ThesisTitle,
			"thesisType":    application.ThesisType,
		},
	}, application.ID)

	return application, nil
}

// Get returns an application. Students only see their own; reviewers
// see everything.
func (s *ApplicationService) Get(ctx context.Context, actor models.User, applicationID string) (*models.Application, error) {
	application, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if application.UserID != actor.ID && !CanReviewApplications(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this application")
	}
	return application, nil
}

// List returns applications matching the query. Non-reviewers are
// restricted to their own submissions.
func (s *ApplicationService) List(ctx context.Context, actor models.User, query dto.ApplicationListQuery) ([]models.Application, *models.Pagination, error) {
	filter := models.ApplicationFilter{
		TopicID:    query.TopicID,
		ThesisType: query.ThesisType,
		Search:     query.Search,
		Page:       query.Page,
		PageSize:   query.PageSize,
	}
	for _, state := range query.State {
		filter.States = append(filter.States, models.ApplicationState(state))
	}
	if !CanReviewApplications(actor) {
		filter.UserID = actor.ID
	}

	applications, total, err := s.applications.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return applications, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Accept materialises a thesis from the application, assigns roles,
// stamps the decision, and optionally closes the topic, all in one
// transaction. The new thesis starts in PROPOSAL.
func (s *ApplicationService) Accept(ctx context.Context, actor models.User, applicationID string, req dto.AcceptApplicationRequest) (*models.Thesis, error) {
	if !CanReviewApplications(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers can accept applications")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid accept payload")
	}

	application, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if application.State.Decided() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "application already decided")
	}

	applicant, err := s.users.FindByID(ctx, application.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load applicant")
	}

	roles, err := s.resolveThesisRoles(ctx, actor.ID, application.UserID, req.AdvisorIDs, req.SupervisorIDs)
	if err != nil {
		return nil, err
	}

	title := application.ThesisTitle
	if req.ThesisTitle != nil && *req.ThesisTitle != "" {
		title = *req.ThesisTitle
	}
	thesisType := application.ThesisType
	if req.ThesisType != nil && *req.ThesisType != "" {
		thesisType = *req.ThesisType
	}

	now := time.Now().UTC()
	thesis := &models.Thesis{
		Title:         title,
		Type:          thesisType,
		Visibility:    models.ThesisVisibilityInternal,
		State:         models.ThesisStateProposal,
		ApplicationID: &application.ID,
		StartDate:     application.DesiredStart,
		CreatedBy:     actor.ID,
	}

	var cascaded []models.Application
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.theses.Create(ctx, thesis); err != nil {
			return err
		}
		for i := range roles {
			roles[i].ThesisID = thesis.ID
		}
		if err := s.theses.InsertRoles(ctx, roles); err != nil {
			return err
		}
		if err := s.theses.RecordInitialState(ctx, thesis.ID, models.ThesisStateProposal, actor.ID, now); err != nil {
			return err
		}
		if err := s.applications.Decide(ctx, repository.DecideApplicationParams{
			ID:         application.ID,
			State:      models.ApplicationStateAccepted,
			Comment:    req.Comment,
			ThesisID:   &thesis.ID,
			ReviewedAt: now,
		}); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrAlreadyDecided, "application already decided")
			}
			return err
		}
		if err := s.stampMark(ctx, application.ID, actor.ID, models.ReviewInterestInterested); err != nil {
			return err
		}
		if req.CloseTopic && application.TopicID != nil {
			rejected, err := s.closeTopicCascade(ctx, *application.TopicID, application.ID, actor.ID, now)
			if err != nil {
				return err
			}
			cascaded = rejected
		}
		return nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accept application")
	}

	s.metrics.RecordApplicationDecision(string(models.ApplicationStateAccepted))
	for range cascaded {
		s.metrics.RecordApplicationDecision(string(models.ApplicationStateRejected))
	}

	// Side effects run after commit and never fail the decision.
	if err := s.identity.AddGroup(ctx, applicant.UniversityID, models.GroupStudent); err != nil {
		s.logger.Error("failed to add student group",
			zap.String("userId", applicant.ID),
			zap.String("thesisId", thesis.ID),
			zap.Error(err))
		s.metrics.RecordGatewayFailure("identity")
	}
	if req.NotifyUser {
		s.sendMail(ctx, gateway.MailMessage{
			To:       []string{applicant.Email},
			Template: gateway.MailApplicationAccepted,
			Fields: map[string]string{
				"recipientName": applicant.FullName(),
				"title":         thesis.Title,
			},
		}, application.ID)
	}
	s.notifyCascadeRejections(ctx, models.RejectReasonTopicFilled, cascaded)

	return thesis, nil
}

// Reject turns down an application. FAILED_STUDENT_REQUIREMENTS also
// rejects every other pending application of the same applicant with
// the same reason, in one transaction.
func (s *ApplicationService) Reject(ctx context.Context, actor models.User, applicationID string, req dto.RejectApplicationRequest) error {
	if !CanReviewApplications(actor) {
		return appErrors.Clone(appErrors.ErrForbidden, "only reviewers can reject applications")
	}
	if !models.ValidRejectReason(req.Reason) {
		return appErrors.Clone(appErrors.ErrValidation, "unknown reject reason")
	}

	application, err := s.load(ctx, applicationID)
	if err != nil {
		return err
	}
	if application.State.Decided() {
		return appErrors.Clone(appErrors.ErrAlreadyDecided, "application already decided")
	}

	now := time.Now().UTC()
	reason := req.Reason
	var cascaded []models.Application

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.applications.Decide(ctx, repository.DecideApplicationParams{
			ID:           application.ID,
			State:        models.ApplicationStateRejected,
			RejectReason: &reason,
			Comment:      req.Comment,
			ReviewedAt:   now,
		}); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrAlreadyDecided, "application already decided")
			}
			return err
		}
		if err := s.stampMark(ctx, application.ID, actor.ID, models.ReviewInterestNotInterested); err != nil {
			return err
		}
		if reason != models.RejectReasonFailedStudentRequirements {
			return nil
		}
		// Applicant-wide cascade in stable id order.
		pending, err := s.applications.ListPendingByUser(ctx, application.UserID, application.ID)
		if err != nil {
			return err
		}
		for _, other := range pending {
			if err := s.applications.Decide(ctx, repository.DecideApplicationParams{
				ID:           other.ID,
				State:        models.ApplicationStateRejected,
				RejectReason: &reason,
				ReviewedAt:   now,
			}); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return err
			}
			if err := s.stampMark(ctx, other.ID, actor.ID, models.ReviewInterestNotInterested); err != nil {
				return err
			}
			cascaded = append(cascaded, other)
		}
		return nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject application")
	}

	s.metrics.RecordApplicationDecision(string(models.ApplicationStateRejected))
	for range cascaded {
		s.metrics.RecordApplicationDecision(string(models.ApplicationStateRejected))
	}

	if req.NotifyUser {
		applicant, err := s.users.FindByID(ctx, application.UserID)
		if err != nil {
			s.logger.Error("failed to resolve applicant for rejection mail",
				zap.String("applicationId", application.ID), zap.Error(err))
			return nil
		}
		comment := ""
		if req.Comment != nil {
			comment = *req.Comment
		}
		s.sendMail(ctx, gateway.MailMessage{
			To:       []string{applicant.Email},
			Template: gateway.MailApplicationRejected,
			Fields: map[string]string{
				"recipientName": applicant.FullName(),
				"title":         application.ThesisTitle,
				"reason":        string(reason),
				"comment":       comment,
			},
		}, application.ID)
		s.notifyCascadeRejections(ctx, reason, cascaded)
	}
	return nil
}

// Mark records or replaces the acting reviewer's triage mark.
func (s *ApplicationService) Mark(ctx context.Context, actor models.User, applicationID string, req dto.ReviewerMarkRequest) error {
	if !CanReviewApplications(actor) {
		return appErrors.Clone(appErrors.ErrForbidden, "only reviewers can mark applications")
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}
	if _, err := s.load(ctx, applicationID); err != nil {
		return err
	}
	mark := &models.ReviewerMark{
		ApplicationID: applicationID,
		ReviewerID:    actor.ID,
		Interest:      req.Interest,
	}
	if err := s.applications.UpsertReviewerMark(ctx, mark); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store reviewer mark")
	}
	return nil
}

// ClearMark removes the acting reviewer's triage mark. Clearing a
// missing mark is a no-op.
func (s *ApplicationService) ClearMark(ctx context.Context, actor models.User, applicationID string) error {
	if !CanReviewApplications(actor) {
		return appErrors.Clone(appErrors.ErrForbidden, "only reviewers can mark applications")
	}
	if err := s.applications.DeleteReviewerMark(ctx, applicationID, actor.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear reviewer mark")
	}
	return nil
}

// Marks lists all reviewer marks on an application.
func (s *ApplicationService) Marks(ctx context.Context, actor models.User, applicationID string) ([]models.ReviewerMark, error) {
	if !CanReviewApplications(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers can view marks")
	}
	marks, err := s.applications.ListReviewerMarks(ctx, applicationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviewer marks")
	}
	return marks, nil
}

func (s *ApplicationService) load(ctx context.Context, applicationID string) (*models.Application, error) {
	application, err := s.applications.GetByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return application, nil
}

// stampMark records the deciding reviewer's interest on the application
// it just decided. Runs inside the decision transaction.
func (s *ApplicationService) stampMark(ctx context.Context, applicationID, reviewerID string, interest models.ReviewInterest) error {
	return s.applications.UpsertReviewerMark(ctx, &models.ReviewerMark{
		ApplicationID: applicationID,
		ReviewerID:    reviewerID,
		Interest:      interest,
	})
}

// closeTopicCascade closes the topic and rejects its remaining pending
// applications with TOPIC_FILLED. Runs inside the caller's transaction.
func (s *ApplicationService) closeTopicCascade(ctx context.Context, topicID, acceptedApplicationID, reviewerID string, now time.Time) ([]models.Application, error) {
	if err := s.topics.Close(ctx, topicID, now); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	pending, err := s.applications.ListPendingByTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	reason := models.RejectReasonTopicFilled
	var rejected []models.Application
	for _, other := range pending {
		if other.ID == acceptedApplicationID {
			continue
		}
		if err := s.applications.Decide(ctx, repository.DecideApplicationParams{
			ID:           other.ID,
			State:        models.ApplicationStateRejected,
			RejectReason: &reason,
			ReviewedAt:   now,
		}); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}
		if err := s.stampMark(ctx, other.ID, reviewerID, models.ReviewInterestNotInterested); err != nil {
			return nil, err
		}
		rejected = append(rejected, other)
	}
	return rejected, nil
}

func (s *ApplicationService) resolveThesisRoles(ctx context.Context, actorID, studentID string, advisorIDs, supervisorIDs []string) ([]models.ThesisRole, error) {
	ids := append(append([]string{studentID}, advisorIDs...), supervisorIDs...)
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve role users")
	}
	byID := make(map[string]models.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}

	roles := []models.ThesisRole{{UserID: studentID, Role: models.ThesisRoleStudent, AssignedBy: actorID}}
	for i, id := range advisorIDs {
		user, ok := byID[id]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "advisor does not exist")
		}
		if !user.InGroup(models.GroupAdvisor) && !user.InGroup(models.GroupAdmin) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "advisor lacks the advisor group")
		}
		roles = append(roles, models.ThesisRole{UserID: id, Role: models.ThesisRoleAdvisor, Position: i, AssignedBy: actorID})
	}
	for i, id := range supervisorIDs {
		user, ok := byID[id]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "supervisor does not exist")
		}
		if !user.InGroup(models.GroupSupervisor) && !user.InGroup(models.GroupAdmin) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "supervisor lacks the supervisor group")
		}
		roles = append(roles, models.ThesisRole{UserID: id, Role: models.ThesisRoleSupervisor, Position: i, AssignedBy: actorID})
	}
	return roles, nil
}

func (s *ApplicationService) notifyCascadeRejections(ctx context.Context, reason models.RejectReason, applications []models.Application) {
	if len(applications) == 0 {
		return
	}
	userIDs := make([]string, 0, len(applications))
	for _, application := range applications {
		userIDs = append(userIDs, application.UserID)
	}
	users, err := s.users.FindByIDs(ctx, userIDs)
	if err != nil {
		s.logger.Error("failed to resolve applicants for cascade notification", zap.Error(err))
		return
	}
	byID := make(map[string]models.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	for _, application := range applications {
		user, ok := byID[application.UserID]
		if !ok {
			continue
		}
		s.sendMail(ctx, gateway.MailMessage{
			To:       []string{user.Email},
			Template: gateway.MailApplicationRejected,
			Fields: map[string]string{
				"recipientName": user.FullName(),
				"title":         application.ThesisTitle,
				"reason":        string(reason),
				"comment":       "",
			},
		}, application.ID)
	}
}

func (s *ApplicationService) sendMail(ctx context.Context, msg gateway.MailMessage, applicationID string) {
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send application mail",
			zap.String("template", string(msg.Template)),
			zap.String("applicationId", applicationID),
			zap.Error(err))
	}
}
