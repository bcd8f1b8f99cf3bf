package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-core-api/internal/models"
)

func newExamRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestExamRepositoryCreateInsertsSubjectsInOneTx(t *testing.T) {
	db, mock, cleanup := newExamRepoMock(t)
	defer cleanup()
	repo := NewExamRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exams")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exam_subjects")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exam_subjects")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	exam := &models.Exam{
		Title:     "Term 1 Exam",
		GradeID:   "grade-7",
		Term:      1,
		Year:      2026,
		ExamType:  models.ExamTypeTerm,
		Status:    models.ExamStatusDraft,
		CreatedBy: "user-1",
	}
	subjects := []models.ExamSubject{
		{SubjectID: "sub-math", SubjectName: "Mathematics", MaxMarks: 100},
		{SubjectID: "sub-sci", SubjectName: "Science", MaxMarks: 100},
	}
	require.NoError(t, repo.Create(context.Background(), exam, subjects))
	require.NotEmpty(t, exam.ID)
	require.Equal(t, exam.ID, subjects[0].ExamID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExamRepositoryCreateRollsBackOnSubjectFailure(t *testing.T) {
	db, mock, cleanup := newExamRepoMock(t)
	defer cleanup()
	repo := NewExamRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exams")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exam_subjects")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	exam := &models.Exam{Title: "x", GradeID: "grade-7", Term: 1, Year: 2026, Status: models.ExamStatusDraft}
	err := repo.Create(context.Background(), exam, []models.ExamSubject{{SubjectID: "sub-math", SubjectName: "Mathematics", MaxMarks: 100}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExamRepositoryTransitionRecordsAudit(t *testing.T) {
	db, mock, cleanup := newExamRepoMock(t)
	defer cleanup()
	repo := NewExamRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE exams SET status = $1, published_at = COALESCE($2, published_at), partial_review = COALESCE($3, partial_review), updated_at = $4 WHERE id = $5 AND status = $6")).
		WithArgs(models.ExamStatusMarksEntry, nil, nil, sqlmock.AnyArg(), "exam-1", models.ExamStatusDraft).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exam_transitions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Transition(context.Background(), &models.ExamTransition{
		ExamID:     "exam-1",
		FromStatus: models.ExamStatusDraft,
		ToStatus:   models.ExamStatusMarksEntry,
		ActorID:    "user-1",
	}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExamRepositoryTransitionSetsPartialReview(t *testing.T) {
	db, mock, cleanup := newExamRepoMock(t)
	defer cleanup()
	repo := NewExamRepository(db)

	partial := true
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("partial_review = COALESCE($3, partial_review)")).
		WithArgs(models.ExamStatusClassReview, nil, true, sqlmock.AnyArg(), "exam-1", models.ExamStatusMarksEntry).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exam_transitions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Transition(context.Background(), &models.ExamTransition{
		ExamID:     "exam-1",
		FromStatus: models.ExamStatusMarksEntry,
		ToStatus:   models.ExamStatusClassReview,
		ActorID:    "user-1",
	}, nil, &partial)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExamRepositoryTransitionLostRace(t *testing.T) {
	db, mock, cleanup := newExamRepoMock(t)
	defer cleanup()
	repo := NewExamRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE exams SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Transition(context.Background(), &models.ExamTransition{
		ExamID:     "exam-1",
		FromStatus: models.ExamStatusDraft,
		ToStatus:   models.ExamStatusMarksEntry,
		ActorID:    "user-1",
	}, nil, nil)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExamRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newExamRepoMock(t)
	defer cleanup()
	repo := NewExamRepository(db)

	rows := sqlmock.NewRows([]string{"id", "title", "grade_id", "class_id", "term", "year", "exam_type", "status", "partial_review", "marks_entry_deadline", "review_deadline", "published_at", "retired", "created_by", "created_at", "updated_at"}).
		AddRow("exam-1", "Term 1 Exam", "grade-7", nil, 1, 2026, "TERM", "MARKS_ENTRY", false, nil, nil, nil, false, "user-1", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, grade_id, class_id, term, year, exam_type, status, partial_review, marks_entry_deadline, review_deadline, published_at, retired, created_by, created_at, updated_at FROM exams WHERE id = $1")).
		WithArgs("exam-1").
		WillReturnRows(rows)

	exam, err := repo.FindByID(context.Background(), "exam-1")
	require.NoError(t, err)
	require.Equal(t, models.ExamStatusMarksEntry, exam.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExamRepositoryCountIncompleteSubjects(t *testing.T) {
	db, mock, cleanup := newExamRepoMock(t)
	defer cleanup()
	repo := NewExamRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM exam_subjects WHERE exam_id = $1 AND marks_entered = FALSE")).
		WithArgs("exam-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountIncompleteSubjects(context.Background(), "exam-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
