package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/campushub/thesis-api/internal/models"
	"github.com/campushub/thesis-api/pkg/database"
)

const thesisColumns = `id, title, type, visibility, state, application_id, abstract, info,
       final_grade, final_feedback, start_date, end_date, created_by, created_at, updated_at`

// ThesisRepository persists theses and their owned collections.
type ThesisRepository struct {
	db *sqlx.DB
}

// NewThesisRepository constructs the repository.
func NewThesisRepository(db *sqlx.DB) *ThesisRepository {
	return &ThesisRepository{db: db}
}

func (r *ThesisRepository) q(ctx context.Context) database.Querier {
	return database.QuerierFrom(ctx, r.db)
}

// Create inserts the thesis row. Roles and the initial state-change row
// are written separately inside the same transaction.
func (r *ThesisRepository) Create(ctx context.Context, thesis *models.Thesis) error {
	if thesis.ID == "" {
		thesis.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if thesis.CreatedAt.IsZero() {
		thesis.CreatedAt = now
	}
	thesis.UpdatedAt = now
	const query = `INSERT INTO theses
	(id, title, type, visibility, state, application_id, abstract, info, final_grade, final_feedback, start_date, end_date, created_by, created_at, updated_at)
	VALUES (:id, :title, :type, :visibility, :state, :application_id, :abstract, :info, :final_grade, :final_feedback, :start_date, :end_date, :created_by, :created_at, :updated_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, thesis); err != nil {
		return fmt.Errorf("create thesis: %w", err)
	}
	return nil
}

// GetByID fetches a thesis with all owned collections loaded.
func (r *ThesisRepository) GetByID(ctx context.Context, id string) (*models.Thesis, error) {
	query := `SELECT ` + thesisColumns + ` FROM theses WHERE id = $1 LIMIT 1`
	var thesis models.Thesis
	if err := r.q(ctx).GetContext(ctx, &thesis, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find thesis by id: %w", err)
	}

	const rolesQuery = `SELECT thesis_id, user_id, role, position, assigned_by, assigned_at
	FROM thesis_roles WHERE thesis_id = $1 ORDER BY role, position`
	if err := r.q(ctx).SelectContext(ctx, &thesis.Roles, rolesQuery, id); err != nil {
		return nil, fmt.Errorf("load thesis roles: %w", err)
	}

	const proposalsQuery = `SELECT id, thesis_id, document_ref, created_by, created_at, approved_by, approved_at
	FROM thesis_proposals WHERE thesis_id = $1 ORDER BY created_at DESC`
	if err := r.q(ctx).SelectContext(ctx, &thesis.Proposals, proposalsQuery, id); err != nil {
		return nil, fmt.Errorf("load thesis proposals: %w", err)
	}

	const assessmentsQuery = `SELECT id, thesis_id, summary, positives, negatives, grade_suggestion, created_by, created_at
	FROM thesis_assessments WHERE thesis_id = $1 ORDER BY created_at DESC`
	if err := r.q(ctx).SelectContext(ctx, &thesis.Assessments, assessmentsQuery, id); err != nil {
		return nil, fmt.Errorf("load thesis assessments: %w", err)
	}

	const filesQuery = `SELECT id, thesis_id, type, filename, document_ref, uploaded_by, created_at
	FROM thesis_files WHERE thesis_id = $1 ORDER BY created_at DESC`
	if err := r.q(ctx).SelectContext(ctx, &thesis.Files, filesQuery, id); err != nil {
		return nil, fmt.Errorf("load thesis files: %w", err)
	}

	const statesQuery = `SELECT id, thesis_id, state, changed_by, entered_at
	FROM thesis_state_changes WHERE thesis_id = $1 ORDER BY entered_at`
	if err := r.q(ctx).SelectContext(ctx, &thesis.StateChanges, statesQuery, id); err != nil {
		return nil, fmt.Errorf("load thesis state changes: %w", err)
	}

	return &thesis, nil
}

// List returns theses matching the filter with total count. Role-based
// narrowing joins thesis_roles when a user id is supplied.
func (r *ThesisRepository) List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error) {
	baseQuery := `FROM theses t WHERE 1=1`
	var conditions []string
	var args []interface{}

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			args = append(args, state)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("t.state IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Visibilities) > 0 {
		placeholders := make([]string, len(filter.Visibilities))
		for i, visibility := range filter.Visibilities {
			args = append(args, visibility)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("t.visibility IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM thesis_roles tr WHERE tr.thesis_id = t.id AND tr.user_id = $%d)", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("t.type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(t.title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) ` + baseQuery
	var total int
	if err := r.q(ctx).GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count theses: %w", err)
	}

	listQuery := fmt.Sprintf(`SELECT `+thesisColumns+` %s ORDER BY t.created_at DESC LIMIT %d OFFSET %d`,
		baseQuery, pageSize, offset)
	var theses []models.Thesis
	if err := r.q(ctx).SelectContext(ctx, &theses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list theses: %w", err)
	}
	return theses, total, nil
}

// UpdateMeta persists descriptive fields outside of state transitions.
func (r *ThesisRepository) UpdateMeta(ctx context.Context, thesis *models.Thesis) error {
	thesis.UpdatedAt = time.Now().UTC()
	const query = `UPDATE theses SET title = :title, type = :type, abstract = :abstract, info = :info,
	start_date = :start_date, end_date = :end_date, visibility = :visibility, updated_at = :updated_at
	WHERE id = :id`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, thesis); err != nil {
		return fmt.Errorf("update thesis: %w", err)
	}
	return nil
}

// TransitionParams describes a guarded state transition and the fields
// it may set alongside.
type TransitionParams struct {
	ID            string
	From          models.ThesisState
	To            models.ThesisState
	ChangedBy     string
	At            time.Time
	FinalGrade    *string
	FinalFeedback *string
	Visibility    *models.ThesisVisibility
	EndDate       *time.Time
}

// Transition moves the thesis between states with an optimistic guard on
// the expected source state and appends the matching state-change row in
// the same statement sequence. sql.ErrNoRows signals a lost race or an
// illegal source state.
func (r *ThesisRepository) Transition(ctx context.Context, params TransitionParams) error {
	setParts := []string{"state = :to_state", "updated_at = :at"}
	if params.FinalGrade != nil {
		setParts = append(setParts, "final_grade = :final_grade")
	}
	if params.FinalFeedback != nil {
		setParts = append(setParts, "final_feedback = :final_feedback")
	}
	if params.Visibility != nil {
		setParts = append(setParts, "visibility = :visibility")
	}
	if params.EndDate != nil {
		setParts = append(setParts, "end_date = :end_date")
	}
	query := fmt.Sprintf(`UPDATE theses SET %s WHERE id = :id AND state = :from_state`,
		strings.Join(setParts, ", "))
	result, err := r.q(ctx).NamedExecContext(ctx, query, map[string]interface{}{
		"id":             params.ID,
		"from_state":     params.From,
		"to_state":       params.To,
		"at":             params.At,
		"final_grade":    params.FinalGrade,
		"final_feedback": params.FinalFeedback,
		"visibility":     params.Visibility,
		"end_date":       params.EndDate,
	})
	if err != nil {
		return fmt.Errorf("transition thesis: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return r.appendStateChange(ctx, params.ID, params.To, params.ChangedBy, params.At)
}

// RecordInitialState appends the state-change row for a fresh thesis.
func (r *ThesisRepository) RecordInitialState(ctx context.Context, thesisID string, state models.ThesisState, changedBy string, at time.Time) error {
	return r.appendStateChange(ctx, thesisID, state, changedBy, at)
}

func (r *ThesisRepository) appendStateChange(ctx context.Context, thesisID string, state models.ThesisState, changedBy string, at time.Time) error {
	const query = `INSERT INTO thesis_state_changes (id, thesis_id, state, changed_by, entered_at)
	VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.q(ctx).ExecContext(ctx, query, uuid.NewString(), thesisID, state, changedBy, at); err != nil {
		return fmt.Errorf("append state change: %w", err)
	}
	return nil
}

// InsertRoles writes role assignments for a thesis.
func (r *ThesisRepository) InsertRoles(ctx context.Context, roles []models.ThesisRole) error {
	const query = `INSERT INTO thesis_roles (thesis_id, user_id, role, position, assigned_by, assigned_at)
	VALUES (:thesis_id, :user_id, :role, :position, :assigned_by, :assigned_at)`
	for i := range roles {
		if roles[i].AssignedAt.IsZero() {
			roles[i].AssignedAt = time.Now().UTC()
		}
		if _, err := r.q(ctx).NamedExecContext(ctx, query, roles[i]); err != nil {
			return fmt.Errorf("insert thesis role: %w", err)
		}
	}
	return nil
}

// CreateProposal appends a proposal document reference.
func (r *ThesisRepository) CreateProposal(ctx context.Context, proposal *models.ThesisProposal) error {
	if proposal.ID == "" {
		proposal.ID = uuid.NewString()
	}
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO thesis_proposals (id, thesis_id, document_ref, created_by, created_at, approved_by, approved_at)
	VALUES (:id, :thesis_id, :document_ref, :created_by, :created_at, :approved_by, :approved_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, proposal); err != nil {
		return fmt.Errorf("create thesis proposal: %w", err)
	}
	return nil
}

// ApproveProposal stamps approval on a still-open proposal. The
// approved_at guard keeps a proposal from being approved twice.
func (r *ThesisRepository) ApproveProposal(ctx context.Context, proposalID, approvedBy string, approvedAt time.Time) error {
	const query = `UPDATE thesis_proposals SET approved_by = $2, approved_at = $3
	WHERE id = $1 AND approved_at IS NULL`
	result, err := r.q(ctx).ExecContext(ctx, query, proposalID, approvedBy, approvedAt)
	if err != nil {
		return fmt.Errorf("approve proposal: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approve proposal rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateAssessment appends an assessment row.
func (r *ThesisRepository) CreateAssessment(ctx context.Context, assessment *models.ThesisAssessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO thesis_assessments (id, thesis_id, summary, positives, negatives, grade_suggestion, created_by, created_at)
	VALUES (:id, :thesis_id, :summary, :positives, :negatives, :grade_suggestion, :created_by, :created_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("create thesis assessment: %w", err)
	}
	return nil
}

// CreateFile records an uploaded artifact reference.
func (r *ThesisRepository) CreateFile(ctx context.Context, file *models.ThesisFile) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO thesis_files (id, thesis_id, type, filename, document_ref, uploaded_by, created_at)
	VALUES (:id, :thesis_id, :type, :filename, :document_ref, :uploaded_by, :created_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, file); err != nil {
		return fmt.Errorf("create thesis file: %w", err)
	}
	return nil
}

// ListRolesByThesisIDs loads role assignments for a batch of theses in
// a single query, keyed by thesis id.
func (r *ThesisRepository) ListRolesByThesisIDs(ctx context.Context, thesisIDs []string) (map[string][]models.ThesisRole, error) {
	if len(thesisIDs) == 0 {
		return map[string][]models.ThesisRole{}, nil
	}
	const query = `SELECT thesis_id, user_id, role, position, assigned_by, assigned_at
	FROM thesis_roles WHERE thesis_id = ANY($1) ORDER BY thesis_id, role, position`
	var roles []models.ThesisRole
	if err := r.q(ctx).SelectContext(ctx, &roles, query, pq.Array(thesisIDs)); err != nil {
		return nil, fmt.Errorf("list thesis roles: %w", err)
	}
	byThesis := make(map[string][]models.ThesisRole, len(thesisIDs))
	for _, role := range roles {
		byThesis[role.ThesisID] = append(byThesis[role.ThesisID], role)
	}
	return byThesis, nil
}

// CountActiveByStudent counts non-terminal theses where the user holds
// the STUDENT role. Drives identity-group removal at completion.
func (r *ThesisRepository) CountActiveByStudent(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM theses t
	JOIN thesis_roles tr ON tr.thesis_id = t.id
	WHERE tr.user_id = $1 AND tr.role = $2 AND t.state NOT IN ($3, $4)`
	var count int
	if err := r.q(ctx).GetContext(ctx, &count, query, userID, models.ThesisRoleStudent,
		models.ThesisStateFinished, models.ThesisStateDroppedOut); err != nil {
		return 0, fmt.Errorf("count active theses by student: %w", err)
	}
	return count, nil
}
