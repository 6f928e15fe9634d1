package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/thesis-api/internal/dto"
	"github.com/campushub/thesis-api/internal/gateway"
	"github.com/campushub/thesis-api/internal/models"
	"github.com/campushub/thesis-api/internal/repository"
	"github.com/campushub/thesis-api/pkg/config"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
)

type thesisStoreStub struct {
	createFn          func(ctx context.Context, thesis *models.Thesis) error
	getFn             func(ctx context.Context, id string) (*models.Thesis, error)
	listFn            func(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error)
	updateMetaFn      func(ctx context.Context, thesis *models.Thesis) error
	transitionFn      func(ctx context.Context, params repository.TransitionParams) error
	initialStateFn    func(ctx context.Context, thesisID string, state models.ThesisState, changedBy string, at time.Time) error
	insertRolesFn     func(ctx context.Context, roles []models.ThesisRole) error
	createProposalFn  func(ctx context.Context, proposal *models.ThesisProposal) error
	approveProposalFn func(ctx context.Context, proposalID, approvedBy string, approvedAt time.Time) error
	assessmentFn      func(ctx context.Context, assessment *models.ThesisAssessment) error
	createFileFn      func(ctx context.Context, file *models.ThesisFile) error
	countActiveFn     func(ctx context.Context, userID string) (int, error)
}

func (s *thesisStoreStub) Create(ctx context.Context, thesis *models.Thesis) error {
	if s.createFn != nil {
		return s.createFn(ctx, thesis)
	}
	thesis.ID = "th-generated"
	return nil
}

func (s *thesisStoreStub) GetByID(ctx context.Context, id string) (*models.Thesis, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func (s *thesisStoreStub) List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, 0, nil
}

func (s *thesisStoreStub) UpdateMeta(ctx context.Context, thesis *models.Thesis) error {
	if s.updateMetaFn != nil {
		return s.updateMetaFn(ctx, thesis)
	}
	return nil
}

func (s *thesisStoreStub) Transition(ctx context.Context, params repository.TransitionParams) error {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, params)
	}
	return nil
}

func (s *thesisStoreStub) RecordInitialState(ctx context.Context, thesisID string, state models.ThesisState, changedBy string, at time.Time) error {
	if s.initialStateFn != nil {
		return s.initialStateFn(ctx, thesisID, state, changedBy, at)
	}
	return nil
}

func (s *thesisStoreStub) InsertRoles(ctx context.Context, roles []models.ThesisRole) error {
	if s.insertRolesFn != nil {
		return s.insertRolesFn(ctx, roles)
	}
	return nil
}

func (s *thesisStoreStub) CreateProposal(ctx context.Context, proposal *models.ThesisProposal) error {
	if s.createProposalFn != nil {
		return s.createProposalFn(ctx, proposal)
	}
	return nil
}

func (s *thesisStoreStub) ApproveProposal(ctx context.Context, proposalID, approvedBy string, approvedAt time.Time) error {
	if s.approveProposalFn != nil {
		return s.approveProposalFn(ctx, proposalID, approvedBy, approvedAt)
	}
	return nil
}

func (s *thesisStoreStub) CreateAssessment(ctx context.Context, assessment *models.ThesisAssessment) error {
	if s.assessmentFn != nil {
		return s.assessmentFn(ctx, assessment)
	}
	return nil
}

func (s *thesisStoreStub) CreateFile(ctx context.Context, file *models.ThesisFile) error {
	if s.createFileFn != nil {
		return s.createFileFn(ctx, file)
	}
	return nil
}

func (s *thesisStoreStub) CountActiveByStudent(ctx context.Context, userID string) (int, error) {
	if s.countActiveFn != nil {
		return s.countActiveFn(ctx, userID)
	}
	return 0, nil
}

type documentStoreStub struct {
	storeFn func(data []byte, maxSize int64, allowedMIMEs []string) (string, error)
	loadFn  func(ref string) ([]byte, error)
}

func (s *documentStoreStub) Store(data []byte, maxSize int64, allowedMIMEs []string) (string, error) {
	if s.storeFn != nil {
		return s.storeFn(data, maxSize, allowedMIMEs)
	}
	return "doc-ref", nil
}

func (s *documentStoreStub) Load(ref string) ([]byte, error) {
	if s.loadFn != nil {
		return s.loadFn(ref)
	}
	return []byte("document"), nil
}

func lifecycleThesis(state models.ThesisState) *models.Thesis {
	return &models.Thesis{
		ID:         "th1",
		Title:      "Raft variants",
		Type:       "master",
		Visibility: models.ThesisVisibilityInternal,
		State:      state,
		Roles: []models.ThesisRole{
			{ThesisID: "th1", UserID: "stud1", Role: models.ThesisRoleStudent},
			{ThesisID: "th1", UserID: "adv1", Role: models.ThesisRoleAdvisor},
			{ThesisID: "th1", UserID: "sup1", Role: models.ThesisRoleSupervisor},
		},
	}
}

func lifecycleDirectory() *userDirectoryStub {
	return &userDirectoryStub{users: map[string]models.User{
		"stud1": {ID: "stud1", Email: "stud1@uni.example", UniversityID: "uni-stud1", Groups: models.GroupList{models.GroupStudent}},
		"adv1":  {ID: "adv1", Email: "adv1@uni.example", Groups: models.GroupList{models.GroupAdvisor}},
		"sup1":  {ID: "sup1", Email: "sup1@uni.example", Groups: models.GroupList{models.GroupSupervisor}},
	}}
}

func newLifecycleService(theses *thesisStoreStub, identity *identityRecorder, mailer *mailRecorder) *ThesisService {
	return NewThesisService(theses, lifecycleDirectory(), &documentStoreStub{}, identity, &passTx{}, mailer, config.DocumentsConfig{}, nil, nil)
}

func TestSubmitThesisRequiresUploadedFile(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateWriting)
	theses := &thesisStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
		transitionFn: func(_ context.Context, _ repository.TransitionParams) error {
			t.Fatal("submission without a thesis file must not transition")
			return nil
		},
	}
	svc := newLifecycleService(theses, &identityRecorder{}, &mailRecorder{})

	student := models.User{ID: "stud1", Groups: models.GroupList{models.GroupStudent}}
	err := svc.SubmitThesis(context.Background(), student, "th1")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrCode(t, err))
}

func TestSubmitThesisTransitionsAndNotifiesReviewers(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateWriting)
	thesis.Files = []models.ThesisFile{{ThesisID: "th1", Type: models.ThesisFileTypeThesis, Filename: "thesis.pdf"}}

	var captured repository.TransitionParams
	theses := &thesisStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
		transitionFn: func(_ context.Context, params repository.TransitionParams) error {
			captured = params
			return nil
		},
	}
	mailer := &mailRecorder{}
	svc := newLifecycleService(theses, &identityRecorder{}, mailer)

	student := models.User{ID: "stud1", Groups: models.GroupList{models.GroupStudent}}
	err := svc.SubmitThesis(context.Background(), student, "th1")
	require.NoError(t, err)

	assert.Equal(t, models.ThesisStateWriting, captured.From)
	assert.Equal(t, models.ThesisStateSubmitted, captured.To)
	assert.Equal(t, models.ThesisStateSubmitted, thesis.State)

	// Advisor and supervisor are informed about the hand-in.
	require.Len(t, mailer.sent, 2)
	for _, msg := range mailer.sent {
		assert.Equal(t, gateway.MailThesisStateChanged, msg.Template)
	}
}

func TestListScopesVisibilityByCaller(t *testing.T) {
	var captured models.ThesisFilter
	theses := &thesisStoreStub{
		listFn: func(_ context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error) {
			captured = filter
			return nil, 0, nil
		},
	}
	svc := newLifecycleService(theses, &identityRecorder{}, &mailRecorder{})

	// Anonymous callers only see the public catalogue.
	_, _, err := svc.List(context.Background(), models.User{}, dto.ThesisListQuery{})
	require.NoError(t, err)
	assert.Equal(t, []models.ThesisVisibility{models.ThesisVisibilityPublic}, captured.Visibilities)

	// Group members additionally see INTERNAL and STUDENT theses.
	student := models.User{ID: "other", Groups: models.GroupList{models.GroupStudent}}
	_, _, err = svc.List(context.Background(), student, dto.ThesisListQuery{})
	require.NoError(t, err)
	assert.Equal(t, []models.ThesisVisibility{models.ThesisVisibilityInternal, models.ThesisVisibilityStudent, models.ThesisVisibilityPublic}, captured.Visibilities)

	// Staff are not scoped at all.
	advisor := models.User{ID: "adv1", Groups: models.GroupList{models.GroupAdvisor}}
	_, _, err = svc.List(context.Background(), advisor, dto.ThesisListQuery{})
	require.NoError(t, err)
	assert.Empty(t, captured.Visibilities)
}

func TestAssessNotifiesSupervisors(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateSubmitted)

	var stored *models.ThesisAssessment
	theses := &thesisStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
		assessmentFn: func(_ context.Context, assessment *models.ThesisAssessment) error {
			stored = assessment
			return nil
		},
	}
	mailer := &mailRecorder{}
	svc := newLifecycleService(theses, &identityRecorder{}, mailer)

	advisor := models.User{ID: "adv1", Groups: models.GroupList{models.GroupAdvisor}}
	err := svc.Assess(context.Background(), advisor, "th1", dto.CreateAssessmentRequest{
		Summary:         "Solid work",
		GradeSuggestion: "1.7",
	})
	require.NoError(t, err)

	require.NotNil(t, stored)
	assert.Equal(t, models.ThesisStateAssessed, thesis.State)

	// The supervisor hears about the assessment, nobody else does.
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, gateway.MailThesisStateChanged, mailer.sent[0].Template)
	assert.Equal(t, []string{"sup1@uni.example"}, mailer.sent[0].To)
	assert.Equal(t, string(models.ThesisStateAssessed), mailer.sent[0].Fields["state"])
}

func TestGradeRequiresAssessedState(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateWriting)
	theses := &thesisStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
	}
	svc := newLifecycleService(theses, &identityRecorder{}, &mailRecorder{})

	supervisor := models.User{ID: "sup1", Groups: models.GroupList{models.GroupSupervisor}}
	err := svc.Grade(context.Background(), supervisor, "th1", dto.GradeThesisRequest{FinalGrade: "1.3"})
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrCode(t, err))
}

func TestGradeWritesGradeWithTransition(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateAssessed)
	var captured repository.TransitionParams
	theses := &thesisStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
		transitionFn: func(_ context.Context, params repository.TransitionParams) error {
			captured = params
			return nil
		},
	}
	mailer := &mailRecorder{}
	svc := newLifecycleService(theses, &identityRecorder{}, mailer)

	supervisor := models.User{ID: "sup1", Groups: models.GroupList{models.GroupSupervisor}}
	visibility := models.ThesisVisibilityPublic
	err := svc.Grade(context.Background(), supervisor, "th1", dto.GradeThesisRequest{
		FinalGrade:    "1.3",
		FinalFeedback: "solid work",
		Visibility:    &visibility,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ThesisStateGraded, captured.To)
	require.NotNil(t, captured.FinalGrade)
	assert.Equal(t, "1.3", *captured.FinalGrade)
	require.NotNil(t, captured.Visibility)
	assert.Equal(t, models.ThesisVisibilityPublic, *captured.Visibility)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"stud1@uni.example"}, mailer.sent[0].To)
}

func TestCompleteRemovesStudentGroupWhenLastThesis(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateGraded)
	var captured repository.TransitionParams
	theses := &thesisStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
		transitionFn: func(_ context.Context, params repository.TransitionParams) error {
			captured = params
			return nil
		},
		countActiveFn: func(_ context.Context, userID string) (int, error) { return 0, nil },
	}
	identity := &identityRecorder{}
	svc := newLifecycleService(theses, identity, &mailRecorder{})

	supervisor := models.User{ID: "sup1", Groups: models.GroupList{models.GroupSupervisor}}
	err := svc.Complete(context.Background(), supervisor, "th1")
	require.NoError(t, err)

	assert.Equal(t, models.ThesisStateFinished, captured.To)
	require.NotNil(t, captured.EndDate)
	assert.Equal(t, []string{"uni-stud1/" + models.GroupStudent}, identity.removed)
}

func TestCompleteKeepsStudentGroupWithOtherActiveThesis(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateGraded)
	theses := &thesisStoreStub{
		getFn:         func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
		countActiveFn: func(_ context.Context, _ string) (int, error) { return 1, nil },
	}
	identity := &identityRecorder{}
	svc := newLifecycleService(theses, identity, &mailRecorder{})

	supervisor := models.User{ID: "sup1", Groups: models.GroupList{models.GroupSupervisor}}
	err := svc.Complete(context.Background(), supervisor, "th1")
	require.NoError(t, err)
	assert.Empty(t, identity.removed)
}

func TestDropOutFromAnyActiveState(t *testing.T) {
	for _, state := range []models.ThesisState{
		models.ThesisStateProposal,
		models.ThesisStateWriting,
		models.ThesisStateSubmitted,
		models.ThesisStateAssessed,
		models.ThesisStateGraded,
	} {
		thesis := lifecycleThesis(state)
		var captured repository.TransitionParams
		theses := &thesisStoreStub{
			getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
			transitionFn: func(_ context.Context, params repository.TransitionParams) error {
				captured = params
				return nil
			},
		}
		svc := newLifecycleService(theses, &identityRecorder{}, &mailRecorder{})

		advisor := models.User{ID: "adv1", Groups: models.GroupList{models.GroupAdvisor}}
		err := svc.DropOut(context.Background(), advisor, "th1")
		require.NoError(t, err, "drop-out from %s", state)
		assert.Equal(t, models.ThesisStateDroppedOut, captured.To)
	}
}

func TestDropOutFromTerminalStateRefused(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateFinished)
	theses := &thesisStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
	}
	svc := newLifecycleService(theses, &identityRecorder{}, &mailRecorder{})

	advisor := models.User{ID: "adv1", Groups: models.GroupList{models.GroupAdvisor}}
	err := svc.DropOut(context.Background(), advisor, "th1")
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrCode(t, err))
}

func TestConcurrentTransitionMapsToConflict(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateGraded)
	theses := &thesisStoreStub{
		getFn:        func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
		transitionFn: func(_ context.Context, _ repository.TransitionParams) error { return sql.ErrNoRows },
	}
	svc := newLifecycleService(theses, &identityRecorder{}, &mailRecorder{})

	supervisor := models.User{ID: "sup1", Groups: models.GroupList{models.GroupSupervisor}}
	err := svc.Complete(context.Background(), supervisor, "th1")
	assert.Equal(t, appErrors.ErrConflict.Code, appErrCode(t, err))
}

func TestGetRedactsReviewInternalsForReaders(t *testing.T) {
	grade := "1.3"
	thesis := lifecycleThesis(models.ThesisStateWriting)
	thesis.Visibility = models.ThesisVisibilityStudent
	thesis.FinalGrade = &grade
	thesis.Assessments = []models.ThesisAssessment{{ThesisID: "th1", Summary: "draft"}}

	theses := &thesisStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
	}
	svc := newLifecycleService(theses, &identityRecorder{}, &mailRecorder{})

	stranger := models.User{ID: "other", Groups: models.GroupList{models.GroupStudent}}
	got, err := svc.Get(context.Background(), stranger, "th1")
	require.NoError(t, err)
	assert.Nil(t, got.Assessments)
	assert.Nil(t, got.FinalGrade)
}

func TestUploadFileOnlyWhileWriting(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateSubmitted)
	theses := &thesisStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
	}
	svc := newLifecycleService(theses, &identityRecorder{}, &mailRecorder{})

	student := models.User{ID: "stud1", Groups: models.GroupList{models.GroupStudent}}
	_, err := svc.UploadFile(context.Background(), student, "th1", models.ThesisFileTypeThesis, "thesis.pdf", []byte("%PDF"))
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrCode(t, err))
}

func TestAcceptProposalMovesThesisToWriting(t *testing.T) {
	thesis := lifecycleThesis(models.ThesisStateProposal)
	var approvedID string
	var captured repository.TransitionParams
	theses := &thesisStoreStub{
		getFn: func(_ context.Context, _ string) (*models.Thesis, error) { return thesis, nil },
		approveProposalFn: func(_ context.Context, proposalID, _ string, _ time.Time) error {
			approvedID = proposalID
			return nil
		},
		transitionFn: func(_ context.Context, params repository.TransitionParams) error {
			captured = params
			return nil
		},
	}
	mailer := &mailRecorder{}
	svc := newLifecycleService(theses, &identityRecorder{}, mailer)

	advisor := models.User{ID: "adv1", Groups: models.GroupList{models.GroupAdvisor}}
	err := svc.AcceptProposal(context.Background(), advisor, "th1", "p1")
	require.NoError(t, err)

	assert.Equal(t, "p1", approvedID)
	assert.Equal(t, models.ThesisStateWriting, captured.To)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"stud1@uni.example"}, mailer.sent[0].To)
}
