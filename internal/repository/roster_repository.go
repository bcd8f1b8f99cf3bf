package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/exam-core-api/internal/models"
)

// RosterRepository reads grade, class and student data. Roster records are
// managed elsewhere; exams only consume them.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository creates a new roster repository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// FindGrade returns a grade by identifier.
func (r *RosterRepository) FindGrade(ctx context.Context, id string) (*models.Grade, error) {
	const query = `SELECT id, level FROM grades WHERE id = $1 LIMIT 1`
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find grade: %w", err)
	}
	return &grade, nil
}

// FindClass returns a class by identifier.
func (r *RosterRepository) FindClass(ctx context.Context, id string) (*models.Class, error) {
	const query = `SELECT id, name, grade_id FROM classes WHERE id = $1 LIMIT 1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// ListClassesByGrade returns the classes of a grade ordered by name.
func (r *RosterRepository) ListClassesByGrade(ctx context.Context, gradeID string) ([]models.Class, error) {
	const query = `SELECT id, name, grade_id FROM classes WHERE grade_id = $1 ORDER BY name ASC`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, gradeID); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return classes, nil
}

// ListStudentsByClass returns the current roster of a class.
func (r *RosterRepository) ListStudentsByClass(ctx context.Context, classID string) ([]models.Student, error) {
	const query = `SELECT id, name, surname, class_id, grade_id FROM students WHERE class_id = $1 ORDER BY surname ASC, name ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, classID); err != nil {
		return nil, fmt.Errorf("list students by class: %w", err)
	}
	return students, nil
}

// ListStudentsByGrade returns all students across a grade.
func (r *RosterRepository) ListStudentsByGrade(ctx context.Context, gradeID string) ([]models.Student, error) {
	const query = `SELECT id, name, surname, class_id, grade_id FROM students WHERE grade_id = $1 ORDER BY class_id ASC, surname ASC, name ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, gradeID); err != nil {
		return nil, fmt.Errorf("list students by grade: %w", err)
	}
	return students, nil
}

// CountStudentsByClass returns the roster size for one class.
func (r *RosterRepository) CountStudentsByClass(ctx context.Context, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM students WHERE class_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, classID); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return count, nil
}

// FindSubject returns a subject by identifier.
func (r *RosterRepository) FindSubject(ctx context.Context, id string) (*models.Subject, error) {
	const query = `SELECT id, name FROM subjects WHERE id = $1 LIMIT 1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subject: %w", err)
	}
	return &subject, nil
}

// ListSubjects returns all subjects ordered by name.
func (r *RosterRepository) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	const query = `SELECT id, name FROM subjects ORDER BY name ASC`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}
