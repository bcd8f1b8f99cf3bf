package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/exam-core-api/internal/models"
)

// ExamSummaryRepository persists the derived per-student exam aggregates.
type ExamSummaryRepository struct {
	db *sqlx.DB
}

// NewExamSummaryRepository creates a new exam summary repository.
func NewExamSummaryRepository(db *sqlx.DB) *ExamSummaryRepository {
	return &ExamSummaryRepository{db: db}
}

// ReplaceForExam swaps the full summary set for an exam in one transaction.
// Stale rows from earlier runs never survive a recompute.
func (r *ExamSummaryRepository) ReplaceForExam(ctx context.Context, examID string, summaries []models.ExamSummary) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	const deleteQuery = `DELETE FROM exam_summaries WHERE exam_id = $1`
	if _, err := tx.ExecContext(ctx, deleteQuery, examID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear exam summaries: %w", err)
	}

	now := time.Now().UTC()
	const insertQuery = `INSERT INTO exam_summaries (id, exam_id, student_id, total_marks, average, overall_grade, class_rank, grade_rank, result_count, computed_at)
        VALUES (:id, :exam_id, :student_id, :total_marks, :average, :overall_grade, :class_rank, :grade_rank, :result_count, :computed_at)`
	for i := range summaries {
		if summaries[i].ID == "" {
			summaries[i].ID = uuid.NewString()
		}
		summaries[i].ExamID = examID
		summaries[i].ComputedAt = now
		if _, err := tx.NamedExecContext(ctx, insertQuery, summaries[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert exam summary: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exam summaries: %w", err)
	}
	return nil
}

// ListByExam returns the stored summaries for an exam ordered by class rank.
func (r *ExamSummaryRepository) ListByExam(ctx context.Context, examID string) ([]models.ExamSummary, error) {
	const query = `SELECT id, exam_id, student_id, total_marks, average, overall_grade, class_rank, grade_rank, result_count, computed_at FROM exam_summaries WHERE exam_id = $1 ORDER BY class_rank ASC, student_id ASC`
	var summaries []models.ExamSummary
	if err := r.db.SelectContext(ctx, &summaries, query, examID); err != nil {
		return nil, fmt.Errorf("list exam summaries: %w", err)
	}
	return summaries, nil
}

// FindForStudent returns one student's summary for an exam.
func (r *ExamSummaryRepository) FindForStudent(ctx context.Context, examID, studentID string) (*models.ExamSummary, error) {
	const query = `SELECT id, exam_id, student_id, total_marks, average, overall_grade, class_rank, grade_rank, result_count, computed_at FROM exam_summaries WHERE exam_id = $1 AND student_id = $2 LIMIT 1`
	var summary models.ExamSummary
	if err := r.db.GetContext(ctx, &summary, query, examID, studentID); err != nil {
		return nil, fmt.Errorf("find exam summary: %w", err)
	}
	return &summary, nil
}
