package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/exam-core-api/internal/models"
)

// ExamResultRepository handles the marks ledger persistence.
type ExamResultRepository struct {
	db *sqlx.DB
}

// NewExamResultRepository creates a new exam result repository.
func NewExamResultRepository(db *sqlx.DB) *ExamResultRepository {
	return &ExamResultRepository{db: db}
}

// SubmitBatch upserts a batch of results for one exam subject and recomputes
// the subject's marks_entered flag against the roster size, all in one
// transaction. Either every row lands or none does; re-submitting the same
// student updates the existing row instead of adding one.
func (r *ExamResultRepository) SubmitBatch(ctx context.Context, examSubjectID string, results []models.ExamResult, rosterSize int, enteredBy string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	const upsertQuery = `INSERT INTO exam_results (id, exam_id, exam_subject_id, student_id, marks, is_absent, entered_by, created_at, updated_at)
        VALUES (:id, :exam_id, :exam_subject_id, :student_id, :marks, :is_absent, :entered_by, :created_at, :updated_at)
        ON CONFLICT (exam_id, exam_subject_id, student_id)
        DO UPDATE SET marks = EXCLUDED.marks, is_absent = EXCLUDED.is_absent, entered_by = EXCLUDED.entered_by, updated_at = EXCLUDED.updated_at`
	for i := range results {
		if results[i].ID == "" {
			results[i].ID = uuid.NewString()
		}
		results[i].ExamSubjectID = examSubjectID
		results[i].EnteredBy = enteredBy
		if results[i].CreatedAt.IsZero() {
			results[i].CreatedAt = now
		}
		results[i].UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, upsertQuery, results[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("upsert exam result: %w", err)
		}
	}

	const countQuery = `SELECT COUNT(DISTINCT student_id) FROM exam_results WHERE exam_subject_id = $1`
	var entered int
	if err := tx.GetContext(ctx, &entered, countQuery, examSubjectID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("count entered students: %w", err)
	}

	// The flag follows the roster: it flips back off when the roster grew
	// past the recorded results.
	complete := rosterSize > 0 && entered >= rosterSize
	const flagQuery = `UPDATE exam_subjects SET marks_entered = $2, marks_entered_at = $3, marks_entered_by = $4 WHERE id = $1`
	if complete {
		if _, err := tx.ExecContext(ctx, flagQuery, examSubjectID, true, now, enteredBy); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("mark subject complete: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, flagQuery, examSubjectID, false, nil, nil); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("mark subject incomplete: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit results: %w", err)
	}
	return nil
}

// ListByExam returns results for one exam, optionally narrowed by subject
// slot or student.
func (r *ExamResultRepository) ListByExam(ctx context.Context, examID string, filter models.ResultFilter) ([]models.ExamResult, error) {
	query := `SELECT id, exam_id, exam_subject_id, student_id, marks, is_absent, entered_by, created_at, updated_at FROM exam_results WHERE exam_id = $1`
	args := []interface{}{examID}
	if filter.ExamSubjectID != "" {
		query += fmt.Sprintf(" AND exam_subject_id = $%d", len(args)+1)
		args = append(args, filter.ExamSubjectID)
	}
	if filter.StudentID != "" {
		query += fmt.Sprintf(" AND student_id = $%d", len(args)+1)
		args = append(args, filter.StudentID)
	}
	query += " ORDER BY student_id ASC"

	var results []models.ExamResult
	if err := r.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, fmt.Errorf("list exam results: %w", err)
	}
	return results, nil
}

// FetchByStudents returns results for the given students keyed by student ID.
func (r *ExamResultRepository) FetchByStudents(ctx context.Context, examID string, studentIDs []string) (map[string][]models.ExamResult, error) {
	if len(studentIDs) == 0 {
		return map[string][]models.ExamResult{}, nil
	}
	placeholders := make([]string, len(studentIDs))
	args := make([]interface{}, len(studentIDs)+1)
	args[0] = examID
	for i, id := range studentIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args[i+1] = id
	}
	query := fmt.Sprintf(`SELECT id, exam_id, exam_subject_id, student_id, marks, is_absent, entered_by, created_at, updated_at
        FROM exam_results WHERE exam_id = $1 AND student_id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch exam results: %w", err)
	}
	defer rows.Close()

	byStudent := make(map[string][]models.ExamResult, len(studentIDs))
	for rows.Next() {
		var result models.ExamResult
		if err := rows.StructScan(&result); err != nil {
			return nil, fmt.Errorf("scan exam result: %w", err)
		}
		byStudent[result.StudentID] = append(byStudent[result.StudentID], result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exam results: %w", err)
	}
	return byStudent, nil
}

// DeleteForStudent removes one student's result for a subject slot. Used when
// a student leaves the roster before publication.
func (r *ExamResultRepository) DeleteForStudent(ctx context.Context, examSubjectID, studentID string) error {
	const query = `DELETE FROM exam_results WHERE exam_subject_id = $1 AND student_id = $2`
	if _, err := r.db.ExecContext(ctx, query, examSubjectID, studentID); err != nil {
		return fmt.Errorf("delete exam result: %w", err)
	}
	return nil
}
