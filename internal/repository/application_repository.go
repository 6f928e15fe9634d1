package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campushub/thesis-api/internal/models"
	"github.com/campushub/thesis-api/pkg/database"
)

const applicationColumns = `id, user_id, topic_id, thesis_title, thesis_type, motivation, state,
       reject_reason, comment, thesis_id, desired_start_date, reviewed_at, created_at, updated_at`

// ApplicationRepository persists thesis applications and reviewer marks.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

func (r *ApplicationRepository) q(ctx context.Context) database.Querier {
	return database.QuerierFrom(ctx, r.db)
}

// Create inserts a new application row.
func (r *ApplicationRepository) Create(ctx context.Context, application *models.Application) error {
	if application.ID == "" {
		application.ID = uuid.NewString()
	}
	if application.State == "" {
		application.State = models.ApplicationStateNotAssessed
	}
	now := time.Now().UTC()
	if application.CreatedAt.IsZero() {
		application.CreatedAt = now
	}
	application.UpdatedAt = now
	const query = `INSERT INTO applications
	(id, user_id, topic_id, thesis_title, thesis_type, motivation, state, reject_reason, comment, thesis_id, desired_start_date, reviewed_at, created_at, updated_at)
	VALUES (:id, :user_id, :topic_id, :thesis_title, :thesis_type, :motivation, :state, :reject_reason, :comment, :thesis_id, :desired_start_date, :reviewed_at, :created_at, :updated_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, application); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// GetByID fetches an application by identifier.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1 LIMIT 1`
	var application models.Application
	if err := r.q(ctx).GetContext(ctx, &application, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find application by id: %w", err)
	}
	return &application, nil
}

// List returns applications matching the filter with total count.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error) {
	baseQuery := `FROM applications WHERE 1=1`
	var conditions []string
	var args []interface{}

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			args = append(args, state)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.TopicID != "" {
		conditions = append(conditions, fmt.Sprintf("topic_id = $%d", len(args)+1))
		args = append(args, filter.TopicID)
	}
	if filter.ThesisType != "" {
		conditions = append(conditions, fmt.Sprintf("thesis_type = $%d", len(args)+1))
		args = append(args, filter.ThesisType)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(thesis_title) LIKE $%d", len(args)+1))
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
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}

	listQuery := fmt.Sprintf(`SELECT `+applicationColumns+` %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		baseQuery, pageSize, offset)
	var applications []models.Application
	if err := r.q(ctx).SelectContext(ctx, &applications, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	return applications, total, nil
}

// ListPendingByTopic returns every NOT_ASSESSED application referencing
// the topic in stable id order, so cascade rejections visit each one
// exactly once.
func (r *ApplicationRepository) ListPendingByTopic(ctx context.Context, topicID string) ([]models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications
	WHERE topic_id = $1 AND state = $2 ORDER BY id`
	var applications []models.Application
	if err := r.q(ctx).SelectContext(ctx, &applications, query, topicID, models.ApplicationStateNotAssessed); err != nil {
		return nil, fmt.Errorf("list pending applications by topic: %w", err)
	}
	return applications, nil
}

// ListPendingByUser returns the applicant's other NOT_ASSESSED
// applications in stable id order.
func (r *ApplicationRepository) ListPendingByUser(ctx context.Context, userID, excludeID string) ([]models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications
	WHERE user_id = $1 AND state = $2 AND id <> $3 ORDER BY id`
	var applications []models.Application
	if err := r.q(ctx).SelectContext(ctx, &applications, query, userID, models.ApplicationStateNotAssessed, excludeID); err != nil {
		return nil, fmt.Errorf("list pending applications by user: %w", err)
	}
	return applications, nil
}

// DecideApplicationParams groups the columns a review decision writes.
type DecideApplicationParams struct {
	ID           string
	State        models.ApplicationState
	RejectReason *models.RejectReason
	Comment      *string
	ThesisID     *string
	ReviewedAt   time.Time
}

// Decide moves an application out of NOT_ASSESSED. The state guard in
// the WHERE clause serialises concurrent reviews: the loser sees zero
// affected rows and gets sql.ErrNoRows.
func (r *ApplicationRepository) Decide(ctx context.Context, params DecideApplicationParams) error {
	query := fmt.Sprintf(`UPDATE applications
	SET state = :state, reject_reason = :reject_reason, comment = COALESCE(:comment, comment),
	    thesis_id = :thesis_id, reviewed_at = :reviewed_at, updated_at = :reviewed_at
	WHERE id = :id AND state = '%s'`, models.ApplicationStateNotAssessed)
	result, err := r.q(ctx).NamedExecContext(ctx, query, map[string]interface{}{
		"id":            params.ID,
		"state":         params.State,
		"reject_reason": params.RejectReason,
		"comment":       params.Comment,
		"thesis_id":     params.ThesisID,
		"reviewed_at":   params.ReviewedAt,
	})
	if err != nil {
		return fmt.Errorf("decide application: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check decide application rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpsertReviewerMark records or replaces a reviewer's triage mark.
func (r *ApplicationRepository) UpsertReviewerMark(ctx context.Context, mark *models.ReviewerMark) error {
	now := time.Now().UTC()
	if mark.CreatedAt.IsZero() {
		mark.CreatedAt = now
	}
	mark.UpdatedAt = now
	const query = `INSERT INTO reviewer_marks (application_id, reviewer_id, interest, created_at, updated_at)
	VALUES (:application_id, :reviewer_id, :interest, :created_at, :updated_at)
	ON CONFLICT (application_id, reviewer_id)
	DO UPDATE SET interest = EXCLUDED.interest, updated_at = EXCLUDED.updated_at`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, mark); err != nil {
		return fmt.Errorf("upsert reviewer mark: %w", err)
	}
	return nil
}

// DeleteReviewerMark removes a reviewer's mark; deleting a missing mark
// is a no-op.
func (r *ApplicationRepository) DeleteReviewerMark(ctx context.Context, applicationID, reviewerID string) error {
	const query = `DELETE FROM reviewer_marks WHERE application_id = $1 AND reviewer_id = $2`
	if _, err := r.q(ctx).ExecContext(ctx, query, applicationID, reviewerID); err != nil {
		return fmt.Errorf("delete reviewer mark: %w", err)
	}
	return nil
}

// ListReviewerMarks returns all marks on an application.
func (r *ApplicationRepository) ListReviewerMarks(ctx context.Context, applicationID string) ([]models.ReviewerMark, error) {
	const query = `SELECT application_id, reviewer_id, interest, created_at, updated_at
	FROM reviewer_marks WHERE application_id = $1 ORDER BY updated_at DESC`
	var marks []models.ReviewerMark
	if err := r.q(ctx).SelectContext(ctx, &marks, query, applicationID); err != nil {
		return nil, fmt.Errorf("list reviewer marks: %w", err)
	}
	return marks, nil
}
