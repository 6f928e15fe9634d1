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
	"github.com/campushub/thesis-api/pkg/config"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
)

type thesisStore interface {
	Create(ctx context.Context, thesis *models.Thesis) error
	GetByID(ctx context.Context, id string) (*models.Thesis, error)
	List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error)
	UpdateMeta(ctx context.Context, thesis *models.Thesis) error
	Transition(ctx context.Context, params repository.TransitionParams) error
	RecordInitialState(ctx context.Context, thesisID string, state models.ThesisState, changedBy string, at time.Time) error
	InsertRoles(ctx context.Context, roles []models.ThesisRole) error
	CreateProposal(ctx context.Context, proposal *models.ThesisProposal) error
	ApproveProposal(ctx context.Context, proposalID, approvedBy string, approvedAt time.Time) error
	CreateAssessment(ctx context.Context, assessment *models.ThesisAssessment) error
	CreateFile(ctx context.Context, file *models.ThesisFile) error
	CountActiveByStudent(ctx context.Context, userID string) (int, error)
}

type thesisUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type documentStore interface {
	Store(data []byte, maxSize int64, allowedMIMEs []string) (string, error)
	Load(ref string) ([]byte, error)
}

type groupManager interface {
	AddGroup(ctx context.Context, universityID, group string) error
	RemoveGroup(ctx context.Context, universityID, group string) error
}

// allowedTransitions lists the forward edges of the thesis lifecycle.
// DROPPED_OUT is reachable from every non-terminal state and handled
// separately.
var allowedTransitions = map[models.ThesisState]models.ThesisState{
	models.ThesisStateProposal:  models.ThesisStateWriting,
	models.ThesisStateWriting:   models.ThesisStateSubmitted,
	models.ThesisStateSubmitted: models.ThesisStateAssessed,
	models.ThesisStateAssessed:  models.ThesisStateGraded,
	models.ThesisStateGraded:    models.ThesisStateFinished,
}

// ThesisService drives the thesis lifecycle from proposal to
// completion.
type ThesisService struct {
	theses    thesisStore
	users     thesisUserStore
	documents documentStore
	identity  groupManager
	tx        transactor
	mailer    notifier
	metrics   *MetricsService
	docCfg    config.DocumentsConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// WithMetrics attaches the metrics sink. Transitions are counted by
// target state; a nil sink disables counting.
func (s *ThesisService) WithMetrics(metrics *MetricsService) *ThesisService {
	s.metrics = metrics
	return s
}

// NewThesisService constructs a ThesisService instance.
func NewThesisService(theses thesisStore, users thesisUserStore, documents documentStore, identity groupManager, tx transactor, mailer notifier, docCfg config.DocumentsConfig, validate *validator.Validate, logger *zap.Logger) *ThesisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ThesisService{
		theses:    theses,
		users:     users,
		documents: documents,
		identity:  identity,
		tx:        tx,
		mailer:    mailer,
		docCfg:    docCfg,
		validator: validate,
		logger:    logger,
	}
}

// Create materialises a thesis directly, without an application.
func (s *ThesisService) Create(ctx context.Context, actor models.User, req dto.CreateThesisRequest) (*models.Thesis, error) {
	if !actor.InGroup(models.GroupAdmin) && !actor.InGroup(models.GroupSupervisor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only supervisors can create theses directly")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid thesis payload")
	}

	roles, err := s.resolveRoles(ctx, actor.ID, req.StudentIDs, req.AdvisorIDs, req.SupervisorIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	thesis := &models.Thesis{
		Title:      req.Title,
		Type:       req.Type,
		Visibility: models.ThesisVisibilityInternal,
		State:      models.ThesisStateProposal,
		StartDate:  req.StartDate,
		CreatedBy:  actor.ID,
	}
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
		return s.theses.RecordInitialState(ctx, thesis.ID, models.ThesisStateProposal, actor.ID, now)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create thesis")
	}

	for _, studentID := range req.StudentIDs {
		student, err := s.users.FindByID(ctx, studentID)
		if err != nil {
			s.logger.Error("failed to resolve student for group sync",
				zap.String("userId", studentID), zap.Error(err))
			continue
		}
		if err := s.identity.AddGroup(ctx, student.UniversityID, models.GroupStudent); err != nil {
			s.logger.Error("failed to add student group",
				zap.String("userId", studentID),
				zap.String("thesisId", thesis.ID),
				zap.Error(err))
		}
	}
	return thesis, nil
}

// Get returns a thesis the actor may read. Assessments and the grade
// stay hidden below advisor access until the thesis is finished.
func (s *ThesisService) Get(ctx context.Context, actor models.User, thesisID string) (*models.Thesis, error) {
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	if !HasReadAccess(actor, thesis) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this thesis")
	}
	s.redact(actor, thesis)
	return thesis, nil
}

// List returns theses the actor may see. Staff browse everything;
// everyone else is limited to their own theses plus the student and
// public visibility tiers.
func (s *ThesisService) List(ctx context.Context, actor models.User, query dto.ThesisListQuery) ([]models.Thesis, *models.Pagination, error) {
	filter := models.ThesisFilter{
		Type:     query.Type,
		Search:   query.Search,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	for _, state := range query.State {
		filter.States = append(filter.States, models.ThesisState(state))
	}
	for _, visibility := range query.Visibility {
		filter.Visibilities = append(filter.Visibilities, models.ThesisVisibility(visibility))
	}

	staff := actor.InGroup(models.GroupAdmin) || actor.InGroup(models.GroupSupervisor) || actor.InGroup(models.GroupAdvisor)
	if query.Mine {
		filter.UserID = actor.ID
	} else if !staff {
		// Group members see everything but PRIVATE; anonymous callers
		// only the public catalogue.
		readable := []models.ThesisVisibility{models.ThesisVisibilityPublic}
		if actor.InGroup(models.GroupStudent) {
			readable = []models.ThesisVisibility{models.ThesisVisibilityInternal, models.ThesisVisibilityStudent, models.ThesisVisibilityPublic}
		}
		if len(filter.Visibilities) == 0 {
			filter.Visibilities = readable
		} else {
			allowed := filter.Visibilities[:0]
			for _, visibility := range filter.Visibilities {
				for _, permitted := range readable {
					if visibility == permitted {
						allowed = append(allowed, visibility)
						break
					}
				}
			}
			filter.Visibilities = allowed
			if len(filter.Visibilities) == 0 {
				return nil, &models.Pagination{Page: 1, PageSize: 20}, nil
			}
		}
	}

	theses, total, err := s.theses.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list theses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return theses, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Update edits descriptive fields. Students may edit their own thesis;
// changing visibility needs advisor access.
func (s *ThesisService) Update(ctx context.Context, actor models.User, thesisID string, req dto.UpdateThesisRequest) (*models.Thesis, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid thesis payload")
	}
	if !models.ValidVisibility(req.Visibility) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown visibility")
	}

	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	if !HasStudentAccess(actor, thesis) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this thesis")
	}
	if req.Visibility != thesis.Visibility && !HasAdvisorAccess(actor, thesis) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only advisors can change visibility")
	}
	if thesis.State.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "finished theses are immutable")
	}

	thesis.Title = req.Title
	thesis.Abstract = req.Abstract
	thesis.Info = req.Info
	thesis.Visibility = req.Visibility
	thesis.StartDate = req.StartDate
	thesis.EndDate = req.EndDate

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.theses.UpdateMeta(ctx, thesis)
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update thesis")
	}
	return thesis, nil
}

// SubmitProposal stores a proposal document for an early-stage thesis.
func (s *ThesisService) SubmitProposal(ctx context.Context, actor models.User, thesisID, filename string, data []byte) (*models.ThesisProposal, error) {
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	if !HasStudentAccess(actor, thesis) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this thesis")
	}
	if thesis.State != models.ThesisStateProposal {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "proposals can only be submitted in PROPOSAL state")
	}

	ref, err := s.documents.Store(data, s.docCfg.MaxFileSizeBytes, s.docCfg.AllowedMIMEs)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store proposal document")
	}

	proposal := &models.ThesisProposal{
		ThesisID:    thesisID,
		DocumentRef: ref,
		CreatedBy:   actor.ID,
	}
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.theses.CreateProposal(ctx, proposal)
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record proposal")
	}

	s.notifyRoles(ctx, thesis, []models.ThesisRoleName{models.ThesisRoleAdvisor}, gateway.MailThesisStateChanged, map[string]string{
		"title": thesis.Title,
		"state": "PROPOSAL_SUBMITTED",
	})
	return proposal, nil
}

// AcceptProposal approves the proposal and moves the thesis to WRITING.
func (s *ThesisService) AcceptProposal(ctx context.Context, actor models.User, thesisID, proposalID string) error {
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return err
	}
	if !HasAdvisorAccess(actor, thesis) {
		return appErrors.Clone(appErrors.ErrForbidden, "only advisors can accept proposals")
	}
	if thesis.State != models.ThesisStateProposal {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "thesis is not awaiting a proposal decision")
	}

	now := time.Now().UTC()
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.theses.ApproveProposal(ctx, proposalID, actor.ID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrConflict, "proposal already approved or missing")
			}
			return err
		}
		return s.transition(ctx, thesis, models.ThesisStateWriting, actor.ID, now, repository.TransitionParams{})
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accept proposal")
	}

	s.notifyRoles(ctx, thesis, []models.ThesisRoleName{models.ThesisRoleStudent}, gateway.MailThesisStateChanged, map[string]string{
		"title": thesis.Title,
		"state": string(models.ThesisStateWriting),
	})
	return nil
}

// UploadFile attaches a thesis or presentation artifact.
func (s *ThesisService) UploadFile(ctx context.Context, actor models.User, thesisID string, fileType models.ThesisFileType, filename string, data []byte) (*models.ThesisFile, error) {
	if fileType != models.ThesisFileTypeThesis && fileType != models.ThesisFileTypePresentation {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown file type")
	}
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	if !HasStudentAccess(actor, thesis) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this thesis")
	}
	if thesis.State != models.ThesisStateWriting {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "files can only be uploaded in WRITING state")
	}

	ref, err := s.documents.Store(data, s.docCfg.MaxFileSizeBytes, s.docCfg.AllowedMIMEs)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	file := &models.ThesisFile{
		ThesisID:    thesisID,
		Type:        fileType,
		Filename:    filename,
		DocumentRef: ref,
		UploadedBy:  actor.ID,
	}
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.theses.CreateFile(ctx, file)
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record file")
	}
	return file, nil
}

// LoadDocument streams a stored artifact, subject to read access on the
// owning thesis.
func (s *ThesisService) LoadDocument(ctx context.Context, actor models.User, thesisID, ref string) ([]byte, error) {
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	if !HasReadAccess(actor, thesis) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this thesis")
	}
	owned := false
	for _, file := range thesis.Files {
		if file.DocumentRef == ref {
			owned = true
			break
		}
	}
	if !owned {
		for _, proposal := range thesis.Proposals {
			if proposal.DocumentRef == ref {
				owned = true
				break
			}
		}
	}
	if !owned {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found on this thesis")
	}
	data, err := s.documents.Load(ref)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	return data, nil
}

// SubmitThesis hands in the written thesis. Requires an uploaded THESIS
// file.
func (s *ThesisService) SubmitThesis(ctx context.Context, actor models.User, thesisID string) error {
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return err
	}
	if !HasStudentAccess(actor, thesis) {
		return appErrors.Clone(appErrors.ErrForbidden, "no access to this thesis")
	}
	if thesis.State != models.ThesisStateWriting {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "thesis is not in WRITING state")
	}
	if !thesis.HasFileOfType(models.ThesisFileTypeThesis) {
		return appErrors.Clone(appErrors.ErrValidation, "a thesis file must be uploaded before submission")
	}

	now := time.Now().UTC()
	if err := s.runTransition(ctx, thesis, models.ThesisStateSubmitted, actor.ID, now, repository.TransitionParams{}); err != nil {
		return err
	}
	s.notifyRoles(ctx, thesis, []models.ThesisRoleName{models.ThesisRoleAdvisor, models.ThesisRoleSupervisor}, gateway.MailThesisStateChanged, map[string]string{
		"title": thesis.Title,
		"state": string(models.ThesisStateSubmitted),
	})
	return nil
}

// Assess records the advisor's assessment and moves the thesis to
// ASSESSED. Supervisors are notified after the transaction commits.
func (s *ThesisService) Assess(ctx context.Context, actor models.User, thesisID string, req dto.CreateAssessmentRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return err
	}
	if !HasAdvisorAccess(actor, thesis) {
		return appErrors.Clone(appErrors.ErrForbidden, "only advisors can assess")
	}
	if thesis.State != models.ThesisStateSubmitted {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "thesis is not in SUBMITTED state")
	}

	now := time.Now().UTC()
	assessment := &models.ThesisAssessment{
		ThesisID:        thesisID,
		Summary:         req.Summary,
		Positives:       req.Positives,
		Negatives:       req.Negatives,
		GradeSuggestion: req.GradeSuggestion,
		CreatedBy:       actor.ID,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.theses.CreateAssessment(ctx, assessment); err != nil {
			return err
		}
		return s.transition(ctx, thesis, models.ThesisStateAssessed, actor.ID, now, repository.TransitionParams{})
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assess thesis")
	}
	s.notifyRoles(ctx, thesis, []models.ThesisRoleName{models.ThesisRoleSupervisor}, gateway.MailThesisStateChanged, map[string]string{
		"title": thesis.Title,
		"state": string(models.ThesisStateAssessed),
	})
	return nil
}

// Grade records the supervisor's final grade and moves the thesis to
// GRADED.
func (s *ThesisService) Grade(ctx context.Context, actor models.User, thesisID string, req dto.GradeThesisRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return err
	}
	if !HasSupervisorAccess(actor, thesis) {
		return appErrors.Clone(appErrors.ErrForbidden, "only supervisors can grade")
	}
	if thesis.State != models.ThesisStateAssessed {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "thesis is not in ASSESSED state")
	}
	if req.Visibility != nil && !models.ValidVisibility(*req.Visibility) {
		return appErrors.Clone(appErrors.ErrValidation, "unknown visibility")
	}

	now := time.Now().UTC()
	feedback := req.FinalFeedback
	params := repository.TransitionParams{
		FinalGrade:    &req.FinalGrade,
		FinalFeedback: &feedback,
		Visibility:    req.Visibility,
	}
	if err := s.runTransition(ctx, thesis, models.ThesisStateGraded, actor.ID, now, params); err != nil {
		return err
	}
	s.notifyRoles(ctx, thesis, []models.ThesisRoleName{models.ThesisRoleStudent}, gateway.MailThesisStateChanged, map[string]string{
		"title": thesis.Title,
		"state": string(models.ThesisStateGraded),
	})
	return nil
}

// Complete closes out a graded thesis. When this was the student's last
// active thesis, their student group membership is removed from the
// identity provider (best effort).
func (s *ThesisService) Complete(ctx context.Context, actor models.User, thesisID string) error {
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return err
	}
	if !HasSupervisorAccess(actor, thesis) {
		return appErrors.Clone(appErrors.ErrForbidden, "only supervisors can complete theses")
	}
	if thesis.State != models.ThesisStateGraded {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "thesis is not in GRADED state")
	}

	now := time.Now().UTC()
	params := repository.TransitionParams{EndDate: &now}
	if err := s.runTransition(ctx, thesis, models.ThesisStateFinished, actor.ID, now, params); err != nil {
		return err
	}

	s.syncStudentGroups(ctx, thesis)
	s.notifyRoles(ctx, thesis, []models.ThesisRoleName{models.ThesisRoleStudent}, gateway.MailThesisStateChanged, map[string]string{
		"title": thesis.Title,
		"state": string(models.ThesisStateFinished),
	})
	return nil
}

// DropOut aborts a thesis from any non-terminal state.
func (s *ThesisService) DropOut(ctx context.Context, actor models.User, thesisID string) error {
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return err
	}
	if !HasAdvisorAccess(actor, thesis) {
		return appErrors.Clone(appErrors.ErrForbidden, "only advisors can record a drop-out")
	}
	if thesis.State.Terminal() {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "thesis is already in a terminal state")
	}

	now := time.Now().UTC()
	params := repository.TransitionParams{EndDate: &now}
	if err := s.runTransition(ctx, thesis, models.ThesisStateDroppedOut, actor.ID, now, params); err != nil {
		return err
	}
	s.syncStudentGroups(ctx, thesis)
	return nil
}

func (s *ThesisService) load(ctx context.Context, thesisID string) (*models.Thesis, error) {
	thesis, err := s.theses.GetByID(ctx, thesisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	return thesis, nil
}

// transition validates the edge and performs the guarded update. Runs
// inside an ambient transaction.
func (s *ThesisService) transition(ctx context.Context, thesis *models.Thesis, to models.ThesisState, actorID string, at time.Time, params repository.TransitionParams) error {
	if to == models.ThesisStateDroppedOut {
		if thesis.State.Terminal() {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "thesis is already in a terminal state")
		}
	} else if allowedTransitions[thesis.State] != to {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "state transition not allowed")
	}
	params.ID = thesis.ID
	params.From = thesis.State
	params.To = to
	params.ChangedBy = actorID
	params.At = at
	if err := s.theses.Transition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "thesis was modified concurrently")
		}
		return err
	}
	thesis.State = to
	s.metrics.RecordThesisTransition(string(to))
	return nil
}

func (s *ThesisService) runTransition(ctx context.Context, thesis *models.Thesis, to models.ThesisState, actorID string, at time.Time, params repository.TransitionParams) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.transition(ctx, thesis, to, actorID, at, params)
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition thesis")
	}
	return nil
}

// redact hides review internals from readers below advisor access while
// the thesis is still in progress.
func (s *ThesisService) redact(actor models.User, thesis *models.Thesis) {
	if HasAdvisorAccess(actor, thesis) {
		return
	}
	thesis.Assessments = nil
	if !thesis.State.Terminal() && !HasStudentAccess(actor, thesis) {
		thesis.FinalGrade = nil
		thesis.FinalFeedback = nil
	}
}

// syncStudentGroups removes the student group for every student on the
// thesis who no longer has an active thesis. Failures are logged only.
func (s *ThesisService) syncStudentGroups(ctx context.Context, thesis *models.Thesis) {
	for _, studentID := range thesis.RoleUserIDs(models.ThesisRoleStudent) {
		active, err := s.theses.CountActiveByStudent(ctx, studentID)
		if err != nil {
			s.logger.Error("failed to count active theses",
				zap.String("userId", studentID), zap.Error(err))
			continue
		}
		if active > 0 {
			continue
		}
		student, err := s.users.FindByID(ctx, studentID)
		if err != nil {
			s.logger.Error("failed to resolve student for group removal",
				zap.String("userId", studentID), zap.Error(err))
			continue
		}
		if err := s.identity.RemoveGroup(ctx, student.UniversityID, models.GroupStudent); err != nil {
			s.logger.Error("failed to remove student group",
				zap.String("userId", studentID),
				zap.String("thesisId", thesis.ID),
				zap.Error(err))
		}
	}
}

func (s *ThesisService) resolveRoles(ctx context.Context, actorID string, studentIDs, advisorIDs, supervisorIDs []string) ([]models.ThesisRole, error) {
	ids := append(append(append([]string{}, studentIDs...), advisorIDs...), supervisorIDs...)
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve role users")
	}
	byID := make(map[string]models.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}

	var roles []models.ThesisRole
	for i, id := range studentIDs {
		if _, ok := byID[id]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student does not exist")
		}
		roles = append(roles, models.ThesisRole{UserID: id, Role: models.ThesisRoleStudent, Position: i, AssignedBy: actorID})
	}
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

// notifyRoles mails the holders of the given roles. Failures are logged
// and never surfaced.
func (s *ThesisService) notifyRoles(ctx context.Context, thesis *models.Thesis, roleNames []models.ThesisRoleName, template gateway.MailTemplate, fields map[string]string) {
	var ids []string
	for _, role := range roleNames {
		ids = append(ids, thesis.RoleUserIDs(role)...)
	}
	if len(ids) == 0 {
		return
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("failed to resolve notification recipients",
			zap.String("thesisId", thesis.ID), zap.Error(err))
		return
	}
	for _, user := range users {
		msgFields := map[string]string{"recipientName": user.FullName()}
		for key, value := range fields {
			msgFields[key] = value
		}
		if err := s.mailer.Send(ctx, gateway.MailMessage{
			To:       []string{user.Email},
			Template: template,
			Fields:   msgFields,
		}); err != nil {
			s.logger.Error("failed to send thesis mail",
				zap.String("thesisId", thesis.ID),
				zap.String("userId", user.ID),
				zap.Error(err))
		}
	}
}
