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

type topicStore interface {
	Create(ctx context.Context, topic *models.Topic) error
	Update(ctx context.Context, topic *models.Topic) error
	Close(ctx context.Context, id string, closedAt time.Time) error
	GetByID(ctx context.Context, id string) (*models.Topic, error)
	List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, int, error)
}

type topicApplicationStore interface {
	ListPendingByTopic(ctx context.Context, topicID string) ([]models.Application, error)
	ListPendingByUser(ctx context.Context, userID, excludeID string) ([]models.Application, error)
	Decide(ctx context.Context, params repository.DecideApplicationParams) error
	UpsertReviewerMark(ctx context.Context, mark *models.ReviewerMark) error
}

type topicUserStore interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type notifier interface {
	Send(ctx context.Context, msg gateway.MailMessage) error
}

// TopicService manages the thesis topic pool.
type TopicService struct {
	topics       topicStore
	applications topicApplicationStore
	users        topicUserStore
	tx           transactor
	mailer       notifier
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewTopicService constructs a TopicService instance.
func NewTopicService(topics topicStore, applications topicApplicationStore, users topicUserStore, tx transactor, mailer notifier, validate *validator.Validate, logger *zap.Logger) *TopicService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &TopicService{
		topics:       topics,
		applications: applications,
		users:        users,
		tx:           tx,
		mailer:       mailer,
		validator:    validate,
		logger:       logger,
	}
}

// Create publishes a new topic.
func (s *TopicService) Create(ctx context.Context, actor models.User, req dto.CreateTopicRequest) (*models.Topic, error) {
	if !CanManageTopics(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff can create topics")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid topic payload")
	}

	roles, err := s.resolveRoles(ctx, req.Roles)
	if err != nil {
		return nil, err
	}

	topic := &models.Topic{
		Title:           req.Title,
		ProblemDesc:     req.ProblemDesc,
		Requirements:    req.Requirements,
		Goals:           req.Goals,
		References:      req.References,
		ThesisTypes:     models.GroupList(req.ThesisTypes),
		CreatedBy:       actor.ID,
		RoleAssignments: roles,
	}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.topics.Create(ctx, topic)
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create topic")
	}
	return topic, nil
}

// Update edits an open topic. Closed topics are immutable.
func (s *TopicService) Update(ctx context.Context, actor models.User, topicID string, req dto.UpdateTopicRequest) (*models.Topic, error) {
	if !CanManageTopics(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff can edit topics")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid topic payload")
	}

	topic, err := s.Get(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if !topic.Open() {
		return nil, appErrors.Clone(appErrors.ErrTopicClosed, "closed topics cannot be edited")
	}

	roles, err := s.resolveRoles(ctx, req.Roles)
	if err != nil {
		return nil, err
	}

	topic.Title = req.Title
	topic.ProblemDesc = req.ProblemDesc
	topic.Requirements = req.Requirements
	topic.Goals = req.Goals
	topic.References = req.References
	topic.ThesisTypes = models.GroupList(req.ThesisTypes)
	topic.RoleAssignments = roles

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.topics.Update(ctx, topic)
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update topic")
	}
	return topic, nil
}

// Get returns a topic by id.
func (s *TopicService) Get(ctx context.Context, topicID string) (*models.Topic, error) {
	topic, err := s.topics.GetByID(ctx, topicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "topic not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
	}
	return topic, nil
}

// List returns topics matching the query. Closed topics are excluded
// unless explicitly requested.
func (s *TopicService) List(ctx context.Context, query dto.TopicListQuery) ([]models.Topic, *models.Pagination, error) {
	filter := models.TopicFilter{
		IncludeClosed: query.IncludeClosed,
		ThesisType:    query.ThesisType,
		Search:        query.Search,
		Page:          query.Page,
		PageSize:      query.PageSize,
	}
	topics, total, err := s.topics.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list topics")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return topics, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Close closes the topic and rejects every pending application against
// it with the given reason, atomically. Rejecting with
// FAILED_STUDENT_REQUIREMENTS additionally rejects each affected
// applicant's other pending applications, same as a direct rejection
// would. Applicants are notified after the transaction commits;
// notification failures are logged and never undo the closure.
func (s *TopicService) Close(ctx context.Context, actor models.User, topicID string, req dto.CloseTopicRequest) error {
	if !CanManageTopics(actor) {
		return appErrors.Clone(appErrors.ErrForbidden, "only staff can close topics")
	}
	if !models.ValidRejectReason(req.Reason) {
		return appErrors.Clone(appErrors.ErrValidation, "unknown reject reason")
	}

	topic, err := s.Get(ctx, topicID)
	if err != nil {
		return err
	}

	var rejected []models.Application
	now := time.Now().UTC()

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.topics.Close(ctx, topicID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrConflict, "topic is already closed")
			}
			return err
		}
		pending, err := s.applications.ListPendingByTopic(ctx, topicID)
		if err != nil {
			return err
		}
		reason := req.Reason
		for _, application := range pending {
			decided, err := s.rejectPending(ctx, application, reason, actor.ID, now)
			if err != nil {
				return err
			}
			if !decided {
				// A concurrent reviewer may have decided it first.
				continue
			}
			rejected = append(rejected, application)
			if reason != models.RejectReasonFailedStudentRequirements {
				continue
			}
			others, err := s.applications.ListPendingByUser(ctx, application.UserID, application.ID)
			if err != nil {
				return err
			}
			for _, other := range others {
				decided, err := s.rejectPending(ctx, other, reason, actor.ID, now)
				if err != nil {
					return err
				}
				if decided {
					rejected = append(rejected, other)
				}
			}
		}
		return nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close topic")
	}

	s.notifyRejected(ctx, topic.Title, string(req.Reason), rejected)
	return nil
}

// rejectPending rejects one pending application and stamps the closing
// reviewer's mark. Returns false when the application was decided
// concurrently, which the caller treats as already handled.
func (s *TopicService) rejectPending(ctx context.Context, application models.Application, reason models.RejectReason, reviewerID string, now time.Time) (bool, error) {
	if err := s.applications.Decide(ctx, repository.DecideApplicationParams{
		ID:           application.ID,
		State:        models.ApplicationStateRejected,
		RejectReason: &reason,
		ReviewedAt:   now,
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := s.applications.UpsertReviewerMark(ctx, &models.ReviewerMark{
		ApplicationID: application.ID,
		ReviewerID:    reviewerID,
		Interest:      models.ReviewInterestNotInterested,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *TopicService) notifyRejected(ctx context.Context, topicTitle, reason string, applications []models.Application) {
	if len(applications) == 0 {
		return
	}
	userIDs := make([]string, 0, len(applications))
	for _, application := range applications {
		userIDs = append(userIDs, application.UserID)
	}
	users, err := s.users.FindByIDs(ctx, userIDs)
	if err != nil {
		s.logger.Error("failed to resolve applicants for close notification",
			zap.String("topicTitle", topicTitle), zap.Error(err))
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
		msg := gateway.MailMessage{
			To:       []string{user.Email},
			Template: gateway.MailApplicationRejected,
			Fields: map[string]string{
				"recipientName": user.FullName(),
				"title":         application.ThesisTitle,
				"reason":        reason,
				"comment":       "",
			},
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			s.logger.Error("failed to send rejection mail",
				zap.String("applicationId", application.ID),
				zap.String("userId", user.ID),
				zap.Error(err))
		}
	}
}

func (s *TopicService) resolveRoles(ctx context.Context, inputs []dto.TopicRoleInput) ([]models.TopicRoleAssignment, error) {
	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		ids = append(ids, input.UserID)
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve role users")
	}
	byID := make(map[string]models.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}

	positions := map[models.TopicRole]int{}
	roles := make([]models.TopicRoleAssignment, 0, len(inputs))
	for _, input := range inputs {
		user, ok := byID[input.UserID]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "role user does not exist")
		}
		requiredGroup := models.GroupAdvisor
		if input.Role == models.TopicRoleSupervisor {
			requiredGroup = models.GroupSupervisor
		}
		if !user.InGroup(requiredGroup) && !user.InGroup(models.GroupAdmin) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "role user lacks the required group")
		}
		roles = append(roles, models.TopicRoleAssignment{
			UserID:   input.UserID,
			Role:     input.Role,
			Position: positions[input.Role],
		})
		positions[input.Role]++
	}
	return roles, nil
}
