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

const topicColumns = `id, title, problem_description, requirements, goals, "references",
       thesis_types, closed_at, created_by, created_at, updated_at`

// TopicRepository persists thesis topics and their advertised role slots.
type TopicRepository struct {
	db *sqlx.DB
}

// NewTopicRepository constructs the repository.
func NewTopicRepository(db *sqlx.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

func (r *TopicRepository) q(ctx context.Context) database.Querier {
	return database.QuerierFrom(ctx, r.db)
}

// Create inserts a topic together with its role assignments.
func (r *TopicRepository) Create(ctx context.Context, topic *models.Topic) error {
	if topic.ID == "" {
		topic.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if topic.CreatedAt.IsZero() {
		topic.CreatedAt = now
	}
	topic.UpdatedAt = now
	const query = `INSERT INTO topics
	(id, title, problem_description, requirements, goals, "references", thesis_types, closed_at, created_by, created_at, updated_at)
	VALUES (:id, :title, :problem_description, :requirements, :goals, :references, :thesis_types, :closed_at, :created_by, :created_at, :updated_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, topic); err != nil {
		return fmt.Errorf("create topic: %w", err)
	}
	return r.replaceRoles(ctx, topic.ID, topic.RoleAssignments)
}

// Update persists descriptive fields and role assignments. Closed
// topics keep their closedAt untouched here; closing goes through
// Close.
func (r *TopicRepository) Update(ctx context.Context, topic *models.Topic) error {
	topic.UpdatedAt = time.Now().UTC()
	const query = `UPDATE topics SET title = :title, problem_description = :problem_description,
	requirements = :requirements, goals = :goals, "references" = :references,
	thesis_types = :thesis_types, updated_at = :updated_at
	WHERE id = :id`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, topic); err != nil {
		return fmt.Errorf("update topic: %w", err)
	}
	return r.replaceRoles(ctx, topic.ID, topic.RoleAssignments)
}

// Close stamps closedAt exactly once. Returns sql.ErrNoRows when the
// topic is already closed so concurrent closes resolve to one winner.
func (r *TopicRepository) Close(ctx context.Context, id string, closedAt time.Time) error {
	const query = `UPDATE topics SET closed_at = $2, updated_at = $2 WHERE id = $1 AND closed_at IS NULL`
	result, err := r.q(ctx).ExecContext(ctx, query, id, closedAt)
	if err != nil {
		return fmt.Errorf("close topic: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check close topic rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetByID fetches a topic with its role assignments.
func (r *TopicRepository) GetByID(ctx context.Context, id string) (*models.Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE id = $1 LIMIT 1`
	var topic models.Topic
	if err := r.q(ctx).GetContext(ctx, &topic, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find topic by id: %w", err)
	}
	const rolesQuery = `SELECT topic_id, user_id, role, position, created_at
	FROM topic_roles WHERE topic_id = $1 ORDER BY role, position`
	if err := r.q(ctx).SelectContext(ctx, &topic.RoleAssignments, rolesQuery, id); err != nil {
		return nil, fmt.Errorf("load topic roles: %w", err)
	}
	return &topic, nil
}

// List returns topics matching the filter with total count.
func (r *TopicRepository) List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, int, error) {
	baseQuery := `FROM topics WHERE 1=1`
	var conditions []string
	var args []interface{}

	if !filter.IncludeClosed {
		conditions = append(conditions, "closed_at IS NULL")
	}
	if filter.ThesisType != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(thesis_types)", len(args)+1))
		args = append(args, filter.ThesisType)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
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
		return nil, 0, fmt.Errorf("count topics: %w", err)
	}

	listQuery := fmt.Sprintf(`SELECT `+topicColumns+` %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		baseQuery, pageSize, offset)
	var topics []models.Topic
	if err := r.q(ctx).SelectContext(ctx, &topics, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list topics: %w", err)
	}
	return topics, total, nil
}

func (r *TopicRepository) replaceRoles(ctx context.Context, topicID string, roles []models.TopicRoleAssignment) error {
	if _, err := r.q(ctx).ExecContext(ctx, `DELETE FROM topic_roles WHERE topic_id = $1`, topicID); err != nil {
		return fmt.Errorf("clear topic roles: %w", err)
	}
	const query = `INSERT INTO topic_roles (topic_id, user_id, role, position, created_at)
	VALUES (:topic_id, :user_id, :role, :position, :created_at)`
	for i := range roles {
		roles[i].TopicID = topicID
		if roles[i].CreatedAt.IsZero() {
			roles[i].CreatedAt = time.Now().UTC()
		}
		if _, err := r.q(ctx).NamedExecContext(ctx, query, roles[i]); err != nil {
			return fmt.Errorf("insert topic role: %w", err)
		}
	}
	return nil
}
