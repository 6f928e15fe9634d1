package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/thesis-api/internal/models"
)

func applicationRows(now time.Time, ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "user_id", "topic_id", "thesis_title", "thesis_type", "motivation", "state", "reject_reason", "comment", "thesis_id", "desired_start_date", "reviewed_at", "created_at", "updated_at"})
	for _, id := range ids {
		rows.AddRow(id, "u1", "t1", "Raft in anger", "student", "because", string(models.ApplicationStateNotAssessed), nil, nil, nil, now, nil, now, now)
	}
	return rows
}

func TestCreateApplicationDefaultsState(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectExec("INSERT INTO applications").WillReturnResult(sqlmock.NewResult(1, 1))

	application := &models.Application{UserID: "u1", ThesisTitle: "Raft in anger", ThesisType: "student", Motivation: "because"}
	err := repo.Create(context.Background(), application)
	require.NoError(t, err)
	assert.NotEmpty(t, application.ID)
	assert.Equal(t, models.ApplicationStateNotAssessed, application.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideApplication(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectExec("UPDATE applications").WillReturnResult(sqlmock.NewResult(0, 1))

	thesisID := "th1"
	err := repo.Decide(context.Background(), DecideApplicationParams{
		ID:         "a1",
		State:      models.ApplicationStateAccepted,
		ThesisID:   &thesisID,
		ReviewedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideApplicationAlreadyDecided(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectExec("UPDATE applications").WillReturnResult(sqlmock.NewResult(0, 0))

	reason := models.RejectReasonNoCapacity
	err := repo.Decide(context.Background(), DecideApplicationParams{
		ID:           "a1",
		State:        models.ApplicationStateRejected,
		RejectReason: &reason,
		ReviewedAt:   time.Now(),
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingByTopicOrderedByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM applications\\s+WHERE topic_id = \\$1 AND state = \\$2 ORDER BY id").
		WithArgs("t1", models.ApplicationStateNotAssessed).
		WillReturnRows(applicationRows(time.Now(), "a1", "a2"))

	applications, err := repo.ListPendingByTopic(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, applications, 2)
	assert.Equal(t, "a1", applications[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingByUserExcludesDecided(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM applications\\s+WHERE user_id = \\$1 AND state = \\$2 AND id <> \\$3 ORDER BY id").
		WithArgs("u1", models.ApplicationStateNotAssessed, "a1").
		WillReturnRows(applicationRows(time.Now(), "a2"))

	applications, err := repo.ListPendingByUser(context.Background(), "u1", "a1")
	require.NoError(t, err)
	require.Len(t, applications, 1)
	assert.Equal(t, "a2", applications[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReviewerMark(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectExec("INSERT INTO reviewer_marks").WillReturnResult(sqlmock.NewResult(0, 1))

	mark := &models.ReviewerMark{ApplicationID: "a1", ReviewerID: "r1", Interest: models.ReviewInterestInterested}
	err := repo.UpsertReviewerMark(context.Background(), mark)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReviewerMarkMissingIsNoOp(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectExec("DELETE FROM reviewer_marks").
		WithArgs("a1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteReviewerMark(context.Background(), "a1", "r1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
