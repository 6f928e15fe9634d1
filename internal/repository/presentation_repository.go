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

const presentationColumns = `id, thesis_id, type, visibility, state, location, stream_url, language,
       scheduled_at, duration_minutes, calendar_event_id, created_by, created_at, updated_at`

// PresentationRepository persists presentations and their invites.
type PresentationRepository struct {
	db *sqlx.DB
}

// NewPresentationRepository constructs the repository.
func NewPresentationRepository(db *sqlx.DB) *PresentationRepository {
	return &PresentationRepository{db: db}
}

func (r *PresentationRepository) q(ctx context.Context) database.Querier {
	return database.QuerierFrom(ctx, r.db)
}

// Create inserts a presentation with its invites.
func (r *PresentationRepository) Create(ctx context.Context, presentation *models.Presentation) error {
	if presentation.ID == "" {
		presentation.ID = uuid.NewString()
	}
	if presentation.State == "" {
		presentation.State = models.PresentationStateDrafted
	}
	now := time.Now().UTC()
	if presentation.CreatedAt.IsZero() {
		presentation.CreatedAt = now
	}
	presentation.UpdatedAt = now
	const query = `INSERT INTO presentations
	(id, thesis_id, type, visibility, state, location, stream_url, language, scheduled_at, duration_minutes, calendar_event_id, created_by, created_at, updated_at)
	VALUES (:id, :thesis_id, :type, :visibility, :state, :location, :stream_url, :language, :scheduled_at, :duration_minutes, :calendar_event_id, :created_by, :created_at, :updated_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, presentation); err != nil {
		return fmt.Errorf("create presentation: %w", err)
	}
	return r.insertInvites(ctx, presentation.ID, presentation.Invites)
}

// GetByID fetches a presentation with invites loaded.
func (r *PresentationRepository) GetByID(ctx context.Context, id string) (*models.Presentation, error) {
	query := `SELECT ` + presentationColumns + ` FROM presentations WHERE id = $1 LIMIT 1`
	var presentation models.Presentation
	if err := r.q(ctx).GetContext(ctx, &presentation, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find presentation by id: %w", err)
	}
	const invitesQuery = `SELECT presentation_id, email, created_at
	FROM presentation_invites WHERE presentation_id = $1 ORDER BY email`
	if err := r.q(ctx).SelectContext(ctx, &presentation.Invites, invitesQuery, id); err != nil {
		return nil, fmt.Errorf("load presentation invites: %w", err)
	}
	return &presentation, nil
}

// List returns presentations matching the filter.
func (r *PresentationRepository) List(ctx context.Context, filter models.PresentationFilter) ([]models.Presentation, error) {
	baseQuery := `FROM presentations WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.ThesisID != "" {
		conditions = append(conditions, fmt.Sprintf("thesis_id = $%d", len(args)+1))
		args = append(args, filter.ThesisID)
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, value := range filter.Types {
			args = append(args, value)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Visibilities) > 0 {
		placeholders := make([]string, len(filter.Visibilities))
		for i, value := range filter.Visibilities {
			args = append(args, value)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("visibility IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, value := range filter.States {
			args = append(args, value)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf(`SELECT `+presentationColumns+` %s ORDER BY scheduled_at LIMIT %d OFFSET %d`,
		baseQuery, pageSize, offset)
	var presentations []models.Presentation
	if err := r.q(ctx).SelectContext(ctx, &presentations, listQuery, args...); err != nil {
		return nil, fmt.Errorf("list presentations: %w", err)
	}
	return presentations, nil
}

// UpdateDrafted rewrites the mutable slot fields of a presentation that
// is still DRAFTED. The state guard rejects updating a SCHEDULED
// presentation with sql.ErrNoRows.
func (r *PresentationRepository) UpdateDrafted(ctx context.Context, presentation *models.Presentation) error {
	presentation.UpdatedAt = time.Now().UTC()
	query := fmt.Sprintf(`UPDATE presentations SET
		location = :location, stream_url = :stream_url, language = :language,
		scheduled_at = :scheduled_at, duration_minutes = :duration_minutes, updated_at = :updated_at
	WHERE id = :id AND state = '%s'`, models.PresentationStateDrafted)
	result, err := r.q(ctx).NamedExecContext(ctx, query, presentation)
	if err != nil {
		return fmt.Errorf("update presentation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Schedule confirms a drafted presentation. The state guard rejects
// re-scheduling an already SCHEDULED presentation with sql.ErrNoRows.
func (r *PresentationRepository) Schedule(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE presentations SET state = '%s', updated_at = $2
	WHERE id = $1 AND state = '%s'`, models.PresentationStateScheduled, models.PresentationStateDrafted)
	result, err := r.q(ctx).ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("schedule presentation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check schedule rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetCalendarEventID stores (or clears) the external calendar handle.
func (r *PresentationRepository) SetCalendarEventID(ctx context.Context, id string, eventID *string) error {
	const query = `UPDATE presentations SET calendar_event_id = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.q(ctx).ExecContext(ctx, query, id, eventID); err != nil {
		return fmt.Errorf("set calendar event id: %w", err)
	}
	return nil
}

// DeleteInvites removes all invite records for a presentation.
func (r *PresentationRepository) DeleteInvites(ctx context.Context, presentationID string) error {
	const query = `DELETE FROM presentation_invites WHERE presentation_id = $1`
	if _, err := r.q(ctx).ExecContext(ctx, query, presentationID); err != nil {
		return fmt.Errorf("delete presentation invites: %w", err)
	}
	return nil
}

// Delete removes the presentation row.
func (r *PresentationRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM presentations WHERE id = $1`
	if _, err := r.q(ctx).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete presentation: %w", err)
	}
	return nil
}

func (r *PresentationRepository) insertInvites(ctx context.Context, presentationID string, invites []models.PresentationInvite) error {
	const query = `INSERT INTO presentation_invites (presentation_id, email, created_at)
	VALUES (:presentation_id, :email, :created_at)
	ON CONFLICT (presentation_id, email) DO NOTHING`
	for i := range invites {
		invites[i].PresentationID = presentationID
		if invites[i].CreatedAt.IsZero() {
			invites[i].CreatedAt = time.Now().UTC()
		}
		if _, err := r.q(ctx).NamedExecContext(ctx, query, invites[i]); err != nil {
			return fmt.Errorf("insert presentation invite: %w", err)
		}
	}
	return nil
}
