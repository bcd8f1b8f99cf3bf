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

func newCardRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCreateGenerationWritesHeaderCardsAndSubjects(t *testing.T) {
	db, mock, cleanup := newCardRepoMock(t)
	defer cleanup()
	repo := NewReportCardRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_card_generations")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_cards")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_card_subjects")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_card_subjects")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	gen := &models.ReportCardGeneration{
		ExamID:    "exam-1",
		ClassID:   "class-1",
		Label:     "2026 Term 1 Term 1 Exam - 7A",
		ExamTitle: "Term 1 Exam",
		ClassName: "7A",
	}
	v := 80.0
	cards := []models.ReportCard{{
		ExamID:       "exam-1",
		ClassID:      "class-1",
		StudentID:    "s1",
		StudentName:  "Amara Silva",
		OverallGrade: "A",
		Status:       models.ReportCardStatusDraft,
		Subjects: []models.ReportCardSubject{
			{SubjectID: "sub-math", SubjectName: "Mathematics", Marks: &v, MaxMarks: 100, Percentage: 80, LetterGrade: "A"},
			{SubjectID: "sub-sci", SubjectName: "Science", IsAbsent: true, MaxMarks: 100, LetterGrade: "F"},
		},
	}}
	require.NoError(t, repo.CreateGeneration(context.Background(), gen, cards))
	require.NotEmpty(t, gen.ID)
	require.Equal(t, gen.ID, cards[0].GenerationID)
	require.Equal(t, cards[0].ID, cards[0].Subjects[0].ReportCardID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGenerationRollsBackOnCardFailure(t *testing.T) {
	db, mock, cleanup := newCardRepoMock(t)
	defer cleanup()
	repo := NewReportCardRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_card_generations")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_cards")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	gen := &models.ReportCardGeneration{ExamID: "exam-1", ClassID: "class-1"}
	err := repo.CreateGeneration(context.Background(), gen, []models.ReportCard{{StudentID: "s1"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCardsAttachesSubjectLines(t *testing.T) {
	db, mock, cleanup := newCardRepoMock(t)
	defer cleanup()
	repo := NewReportCardRepository(db)

	cardRows := sqlmock.NewRows([]string{"id", "generation_id", "exam_id", "class_id", "student_id", "student_name", "total_marks", "total_max_marks", "percentage", "average", "overall_grade", "class_rank", "class_size", "status", "generated_at"}).
		AddRow("card-1", "gen-1", "exam-1", "class-1", "s1", "Amara Silva", 150.0, 200.0, 75.0, 75.0, "A", 1, 2, "DRAFT", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_cards WHERE generation_id = $1")).
		WithArgs("gen-1").
		WillReturnRows(cardRows)

	subjectRows := sqlmock.NewRows([]string{"id", "report_card_id", "subject_id", "subject_name", "marks", "max_marks", "percentage", "letter_grade", "is_absent"}).
		AddRow("rcs-1", "card-1", "sub-math", "Mathematics", 75.0, 100.0, 75.0, "A", false).
		AddRow("rcs-2", "card-1", "sub-sci", "Science", 75.0, 100.0, 75.0, "A", false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_card_subjects WHERE report_card_id IN ($1)")).
		WithArgs("card-1").
		WillReturnRows(subjectRows)

	cards, err := repo.ListCards(context.Background(), "gen-1")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Len(t, cards[0].Subjects, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCardStatusMissingCard(t *testing.T) {
	db, mock, cleanup := newCardRepoMock(t)
	defer cleanup()
	repo := NewReportCardRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_cards SET status = $3 WHERE id = $1 AND status = $2")).
		WithArgs("card-missing", models.ReportCardStatusPublished, models.ReportCardStatusApproved).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateCardStatus(context.Background(), "card-missing", models.ReportCardStatusPublished, models.ReportCardStatusApproved)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
