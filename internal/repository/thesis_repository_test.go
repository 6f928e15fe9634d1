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

func TestTransitionThesis(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	mock.ExpectExec("UPDATE theses SET state = (.+) WHERE id = (.+) AND state = (.+)").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO thesis_state_changes").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Transition(context.Background(), TransitionParams{
		ID:        "th1",
		From:      models.ThesisStateProposal,
		To:        models.ThesisStateWriting,
		ChangedBy: "u1",
		At:        time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionThesisLostRace(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	mock.ExpectExec("UPDATE theses").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Transition(context.Background(), TransitionParams{
		ID:        "th1",
		From:      models.ThesisStateSubmitted,
		To:        models.ThesisStateAssessed,
		ChangedBy: "u1",
		At:        time.Now(),
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionThesisSetsOptionalColumns(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	mock.ExpectExec("UPDATE theses SET state = (.+), updated_at = (.+), final_grade = (.+), final_feedback = (.+) WHERE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO thesis_state_changes").WillReturnResult(sqlmock.NewResult(1, 1))

	grade := "1.3"
	feedback := "solid work"
	err := repo.Transition(context.Background(), TransitionParams{
		ID:            "th1",
		From:          models.ThesisStateAssessed,
		To:            models.ThesisStateGraded,
		ChangedBy:     "sup1",
		At:            time.Now(),
		FinalGrade:    &grade,
		FinalFeedback: &feedback,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveProposalTwice(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	mock.ExpectExec("UPDATE thesis_proposals").
		WithArgs("p1", "adv1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ApproveProposal(context.Background(), "p1", "adv1", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActiveByStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM theses t").
		WithArgs("u1", models.ThesisRoleStudent, models.ThesisStateFinished, models.ThesisStateDroppedOut).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountActiveByStudent(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
