package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/exam-core-api/internal/models"
)

// ExamRepository handles exam and exam subject persistence.
type ExamRepository struct {
	db *sqlx.DB
}

// NewExamRepository creates a new exam repository.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{db: db}
}

// Create inserts an exam with its subject slots in a single transaction.
func (r *ExamRepository) Create(ctx context.Context, exam *models.Exam, subjects []models.ExamSubject) error {
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	exam.CreatedAt = now
	exam.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	const examQuery = `INSERT INTO exams (id, title, grade_id, class_id, term, year, exam_type, status, partial_review, marks_entry_deadline, review_deadline, published_at, retired, created_by, created_at, updated_at)
        VALUES (:id, :title, :grade_id, :class_id, :term, :year, :exam_type, :status, :partial_review, :marks_entry_deadline, :review_deadline, :published_at, :retired, :created_by, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, examQuery, exam); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert exam: %w", err)
	}

	const subjectQuery = `INSERT INTO exam_subjects (id, exam_id, subject_id, subject_name, teacher_id, max_marks, marks_entered, marks_entered_at, marks_entered_by, created_at)
        VALUES (:id, :exam_id, :subject_id, :subject_name, :teacher_id, :max_marks, :marks_entered, :marks_entered_at, :marks_entered_by, :created_at)`
	for i := range subjects {
		if subjects[i].ID == "" {
			subjects[i].ID = uuid.NewString()
		}
		subjects[i].ExamID = exam.ID
		subjects[i].CreatedAt = now
		if _, err := tx.NamedExecContext(ctx, subjectQuery, subjects[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert exam subject: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exam: %w", err)
	}
	return nil
}

// FindByID returns an exam by identifier.
func (r *ExamRepository) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	const query = `SELECT id, title, grade_id, class_id, term, year, exam_type, status, partial_review, marks_entry_deadline, review_deadline, published_at, retired, created_by, created_at, updated_at FROM exams WHERE id = $1 LIMIT 1`
	var exam models.Exam
	if err := r.db.GetContext(ctx, &exam, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find exam by id: %w", err)
	}
	return &exam, nil
}

// List returns exams matching the filter with a total count.
func (r *ExamRepository) List(ctx context.Context, filter models.ExamFilter) ([]models.Exam, int, error) {
	baseQuery := `FROM exams WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.GradeID != "" {
		conditions = append(conditions, fmt.Sprintf("grade_id = $%d", len(args)+1))
		args = append(args, filter.GradeID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("(class_id = $%d OR class_id IS NULL)", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Term > 0 {
		conditions = append(conditions, fmt.Sprintf("term = $%d", len(args)+1))
		args = append(args, filter.Term)
	}
	if filter.Year > 0 {
		conditions = append(conditions, fmt.Sprintf("year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Retired != nil {
		conditions = append(conditions, fmt.Sprintf("retired = $%d", len(args)+1))
		args = append(args, *filter.Retired)
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

	listQuery := fmt.Sprintf("SELECT id, title, grade_id, class_id, term, year, exam_type, status, partial_review, marks_entry_deadline, review_deadline, published_at, retired, created_by, created_at, updated_at %s ORDER BY year DESC, term DESC, created_at DESC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)

	var exams []models.Exam
	if err := r.db.SelectContext(ctx, &exams, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list exams: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count exams: %w", err)
	}

	return exams, total, nil
}

// Transition moves an exam to a new status and records the change in
// exam_transitions within the same transaction. The WHERE clause carries the
// expected current status so concurrent transitions cannot both win. A
// non-nil partialReview updates the flag atomically with the status change.
func (r *ExamRepository) Transition(ctx context.Context, transition *models.ExamTransition, publishedAt *time.Time, partialReview *bool) error {
	if transition.ID == "" {
		transition.ID = uuid.NewString()
	}
	if transition.OccurredAt.IsZero() {
		transition.OccurredAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	const updateQuery = `UPDATE exams SET status = $1, published_at = COALESCE($2, published_at), partial_review = COALESCE($3, partial_review), updated_at = $4 WHERE id = $5 AND status = $6`
	res, err := tx.ExecContext(ctx, updateQuery, transition.ToStatus, publishedAt, partialReview, transition.OccurredAt, transition.ExamID, transition.FromStatus)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("transition exam: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("transition exam rows affected: %w", err)
	}
	if affected == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}

	const auditQuery = `INSERT INTO exam_transitions (id, exam_id, from_status, to_status, actor_id, note, occurred_at)
        VALUES (:id, :exam_id, :from_status, :to_status, :actor_id, :note, :occurred_at)`
	if _, err := tx.NamedExecContext(ctx, auditQuery, transition); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("record exam transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// SetRetired flips the retired flag on an exam.
func (r *ExamRepository) SetRetired(ctx context.Context, id string, retired bool) error {
	const query = `UPDATE exams SET retired = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, retired, time.Now().UTC()); err != nil {
		return fmt.Errorf("set exam retired: %w", err)
	}
	return nil
}

// UpdateDeadlines changes the marks entry and review deadlines.
func (r *ExamRepository) UpdateDeadlines(ctx context.Context, id string, marksEntry, review *time.Time) error {
	const query = `UPDATE exams SET marks_entry_deadline = $2, review_deadline = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, marksEntry, review, time.Now().UTC()); err != nil {
		return fmt.Errorf("update exam deadlines: %w", err)
	}
	return nil
}

// ListTransitions returns the status history for an exam, oldest first.
func (r *ExamRepository) ListTransitions(ctx context.Context, examID string) ([]models.ExamTransition, error) {
	const query = `SELECT id, exam_id, from_status, to_status, actor_id, note, occurred_at FROM exam_transitions WHERE exam_id = $1 ORDER BY occurred_at ASC`
	var transitions []models.ExamTransition
	if err := r.db.SelectContext(ctx, &transitions, query, examID); err != nil {
		return nil, fmt.Errorf("list exam transitions: %w", err)
	}
	return transitions, nil
}

// ListSubjects returns the subject slots for an exam.
func (r *ExamRepository) ListSubjects(ctx context.Context, examID string) ([]models.ExamSubject, error) {
	const query = `SELECT id, exam_id, subject_id, subject_name, teacher_id, max_marks, marks_entered, marks_entered_at, marks_entered_by, created_at FROM exam_subjects WHERE exam_id = $1 ORDER BY subject_name ASC`
	var subjects []models.ExamSubject
	if err := r.db.SelectContext(ctx, &subjects, query, examID); err != nil {
		return nil, fmt.Errorf("list exam subjects: %w", err)
	}
	return subjects, nil
}

// FindSubject returns one exam subject slot.
func (r *ExamRepository) FindSubject(ctx context.Context, id string) (*models.ExamSubject, error) {
	const query = `SELECT id, exam_id, subject_id, subject_name, teacher_id, max_marks, marks_entered, marks_entered_at, marks_entered_by, created_at FROM exam_subjects WHERE id = $1 LIMIT 1`
	var subject models.ExamSubject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find exam subject: %w", err)
	}
	return &subject, nil
}

// CountIncompleteSubjects returns how many subject slots still miss marks.
func (r *ExamRepository) CountIncompleteSubjects(ctx context.Context, examID string) (int, error) {
	const query = `SELECT COUNT(*) FROM exam_subjects WHERE exam_id = $1 AND marks_entered = FALSE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, examID); err != nil {
		return 0, fmt.Errorf("count incomplete subjects: %w", err)
	}
	return count, nil
}
