package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-core-api/internal/models"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
)

type rosterStore interface {
	FindGrade(ctx context.Context, id string) (*models.Grade, error)
	FindClass(ctx context.Context, id string) (*models.Class, error)
	ListClassesByGrade(ctx context.Context, gradeID string) ([]models.Class, error)
	ListStudentsByClass(ctx context.Context, classID string) ([]models.Student, error)
	CountStudentsByClass(ctx context.Context, classID string) (int, error)
	ListSubjects(ctx context.Context) ([]models.Subject, error)
}

// ClassSummary is a class with its enrolment count, for exam setup screens.
type ClassSummary struct {
	models.Class
	StudentCount int `json:"student_count"`
}

// RosterService reads reference data: grades, classes, students, subjects.
// The roster itself is maintained by the school information system; this
// service only exposes it for exam setup and marks entry screens.
type RosterService struct {
	roster rosterStore
	logger *zap.Logger
}

// NewRosterService constructs a RosterService.
func NewRosterService(roster rosterStore, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{roster: roster, logger: logger}
}

// Classes lists the classes of a grade with enrolment counts.
func (s *RosterService) Classes(ctx context.Context, gradeID string) ([]ClassSummary, error) {
	if _, err := s.roster.FindGrade(ctx, gradeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	classes, err := s.roster.ListClassesByGrade(ctx, gradeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	out := make([]ClassSummary, 0, len(classes))
	for _, class := range classes {
		count, err := s.roster.CountStudentsByClass(ctx, class.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count students")
		}
		out = append(out, ClassSummary{Class: class, StudentCount: count})
	}
	return out, nil
}

// Students lists the students of one class.
func (s *RosterService) Students(ctx context.Context, classID string) ([]models.Student, error) {
	if _, err := s.roster.FindClass(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	students, err := s.roster.ListStudentsByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, nil
}

// Subjects lists every taught subject.
func (s *RosterService) Subjects(ctx context.Context) ([]models.Subject, error) {
	subjects, err := s.roster.ListSubjects(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}
