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

func newSummaryRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestReplaceForExamDeletesBeforeInserting(t *testing.T) {
	db, mock, cleanup := newSummaryRepoMock(t)
	defer cleanup()
	repo := NewExamSummaryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM exam_summaries WHERE exam_id = $1")).
		WithArgs("exam-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exam_summaries")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exam_summaries")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	summaries := []models.ExamSummary{
		{StudentID: "s1", TotalMarks: 150, Average: 75, OverallGrade: "A", ClassRank: 1, ResultCount: 2},
		{StudentID: "s2", TotalMarks: 120, Average: 60, OverallGrade: "C", ClassRank: 2, ResultCount: 2},
	}
	require.NoError(t, repo.ReplaceForExam(context.Background(), "exam-1", summaries))
	require.Equal(t, "exam-1", summaries[0].ExamID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceForExamEmptySetStillClears(t *testing.T) {
	db, mock, cleanup := newSummaryRepoMock(t)
	defer cleanup()
	repo := NewExamSummaryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM exam_summaries WHERE exam_id = $1")).
		WithArgs("exam-1").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceForExam(context.Background(), "exam-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceForExamRollsBackOnInsertFailure(t *testing.T) {
	db, mock, cleanup := newSummaryRepoMock(t)
	defer cleanup()
	repo := NewExamSummaryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM exam_summaries")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exam_summaries")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.ReplaceForExam(context.Background(), "exam-1", []models.ExamSummary{{StudentID: "s1"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByExamOrdersByRank(t *testing.T) {
	db, mock, cleanup := newSummaryRepoMock(t)
	defer cleanup()
	repo := NewExamSummaryRepository(db)

	rows := sqlmock.NewRows([]string{"id", "exam_id", "student_id", "total_marks", "average", "overall_grade", "class_rank", "grade_rank", "result_count", "computed_at"}).
		AddRow("sum-1", "exam-1", "s1", 180.0, 90.0, "A", 1, 1, 2, time.Now()).
		AddRow("sum-2", "exam-1", "s2", 120.0, 60.0, "C", 2, 3, 2, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM exam_summaries WHERE exam_id = $1 ORDER BY class_rank ASC, student_id ASC")).
		WithArgs("exam-1").
		WillReturnRows(rows)

	summaries, err := repo.ListByExam(context.Background(), "exam-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, 1, summaries[0].ClassRank)
	require.NoError(t, mock.ExpectationsWereMet())
}
