package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-core-api/internal/models"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
)

type resultStore interface {
	SubmitBatch(ctx context.Context, examSubjectID string, results []models.ExamResult, rosterSize int, enteredBy string) error
	ListByExam(ctx context.Context, examID string, filter models.ResultFilter) ([]models.ExamResult, error)
	DeleteForStudent(ctx context.Context, examSubjectID, studentID string) error
}

type marksExamReader interface {
	FindByID(ctx context.Context, id string) (*models.Exam, error)
	FindSubject(ctx context.Context, id string) (*models.ExamSubject, error)
}

type marksRosterReader interface {
	ListStudentsByClass(ctx context.Context, classID string) ([]models.Student, error)
	ListStudentsByGrade(ctx context.Context, gradeID string) ([]models.Student, error)
}

// MarkEntry is one student's mark or absence within a submission batch.
type MarkEntry struct {
	StudentID string   `json:"student_id" validate:"required"`
	Marks     *float64 `json:"marks"`
	IsAbsent  bool     `json:"is_absent"`
}

// SubmitMarksRequest is an all-or-nothing batch for one exam subject.
type SubmitMarksRequest struct {
	ExamID        string          `json:"exam_id" validate:"required"`
	ExamSubjectID string          `json:"exam_subject_id" validate:"required"`
	Entries       []MarkEntry     `json:"entries" validate:"required,min=1,dive"`
	ActorID       string          `json:"-"`
	ActorRole     models.UserRole `json:"-"`
}

// SubmitMarksResult reports what the batch changed.
type SubmitMarksResult struct {
	Accepted     int  `json:"accepted"`
	MarksEntered bool `json:"marks_entered"`
}

// MarksService guards the marks ledger: every write passes its validation
// and lands atomically.
type MarksService struct {
	results           resultStore
	exams             marksExamReader
	roster            marksRosterReader
	audits            examAuditor
	metrics           *MetricsService
	validator         *validator.Validate
	logger            *zap.Logger
	deadlineAdminOnly bool
}

// NewMarksService constructs a MarksService. deadlineAdminOnly restricts the
// marks-entry deadline bypass to admins.
func NewMarksService(results resultStore, exams marksExamReader, roster marksRosterReader, audits examAuditor, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, deadlineAdminOnly bool) *MarksService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarksService{
		results:           results,
		exams:             exams,
		roster:            roster,
		audits:            audits,
		metrics:           metrics,
		validator:         validate,
		logger:            logger,
		deadlineAdminOnly: deadlineAdminOnly,
	}
}

// Submit validates and stores a batch of marks for one exam subject. The
// whole batch is rejected on the first invalid entry; nothing partial ever
// lands.
func (s *MarksService) Submit(ctx context.Context, req SubmitMarksRequest) (*SubmitMarksResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid marks payload")
	}

	exam, err := s.exams.FindByID(ctx, req.ExamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	if exam.Status != models.ExamStatusMarksEntry && exam.Status != models.ExamStatusClassReview {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("marks cannot be entered while exam is %s", exam.Status))
	}
	if err := s.checkDeadline(exam, req.ActorRole); err != nil {
		return nil, err
	}

	subject, err := s.exams.FindSubject(ctx, req.ExamSubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam subject")
	}
	if subject.ExamID != exam.ID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exam subject does not belong to this exam")
	}
	if req.ActorRole == models.RoleTeacher && subject.TeacherID != nil && *subject.TeacherID != req.ActorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "subject is assigned to another teacher")
	}

	roster, err := s.examRoster(ctx, exam)
	if err != nil {
		return nil, err
	}
	enrolled := make(map[string]bool, len(roster))
	for _, student := range roster {
		enrolled[student.ID] = true
	}

	results := make([]models.ExamResult, 0, len(req.Entries))
	seen := make(map[string]bool, len(req.Entries))
	for _, entry := range req.Entries {
		if seen[entry.StudentID] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate entry for student %s", entry.StudentID))
		}
		seen[entry.StudentID] = true
		if !enrolled[entry.StudentID] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s is not on the exam roster", entry.StudentID))
		}
		// A row carries either marks or an absence, never both and never
		// neither.
		if entry.IsAbsent {
			if entry.Marks != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s marked absent cannot carry marks", entry.StudentID))
			}
		} else {
			if entry.Marks == nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s needs marks or an absence flag", entry.StudentID))
			}
			if *entry.Marks < 0 || *entry.Marks > subject.MaxMarks {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("marks for student %s outside 0..%g", entry.StudentID, subject.MaxMarks))
			}
		}
		results = append(results, models.ExamResult{
			ExamID:    exam.ID,
			StudentID: entry.StudentID,
			Marks:     entry.Marks,
			IsAbsent:  entry.IsAbsent,
		})
	}

	if err := s.results.SubmitBatch(ctx, subject.ID, results, len(roster), req.ActorID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store marks")
	}
	s.metrics.RecordMarksBatch()

	// Re-read the flag the transaction computed.
	updated, err := s.exams.FindSubject(ctx, subject.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload exam subject")
	}

	if s.audits != nil {
		actorID := req.ActorID
		if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actorID,
			Action:     models.AuditActionMarksSubmit,
			Resource:   "exam_subject",
			ResourceID: &subject.ID,
			NewValues:  []byte(fmt.Sprintf(`{"entries":%d}`, len(results))),
		}); err != nil {
			s.logger.Warn("failed to record marks audit log", zap.Error(err))
		}
	}

	return &SubmitMarksResult{Accepted: len(results), MarksEntered: updated.MarksEntered}, nil
}

// Results returns stored results for an exam, optionally narrowed by subject
// or student. Students and parents only see published exams.
func (s *MarksService) Results(ctx context.Context, examID string, filter models.ResultFilter, role models.UserRole) ([]models.ExamResult, error) {
	exam, err := s.exams.FindByID(ctx, examID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	if (role == models.RoleStudent || role == models.RoleParent) && exam.Status != models.ExamStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "results are not published yet")
	}
	results, err := s.results.ListByExam(ctx, examID, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list results")
	}
	return results, nil
}

// RemoveResult deletes one student's row for a subject slot, for students who
// left the roster before publication. Admin only. The subject completion flag
// is recomputed on the next batch submission.
func (s *MarksService) RemoveResult(ctx context.Context, examID, examSubjectID, studentID, actorID string, actorRole models.UserRole) error {
	if actorRole != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins may remove results")
	}
	exam, err := s.exams.FindByID(ctx, examID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	if exam.Status == models.ExamStatusPublished {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "published results cannot be removed")
	}
	subject, err := s.exams.FindSubject(ctx, examSubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "exam subject not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam subject")
	}
	if subject.ExamID != exam.ID {
		return appErrors.Clone(appErrors.ErrValidation, "exam subject does not belong to this exam")
	}
	if err := s.results.DeleteForStudent(ctx, subject.ID, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove result")
	}

	if s.audits != nil {
		if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actorID,
			Action:     models.AuditActionMarksSubmit,
			Resource:   "exam_subject",
			ResourceID: &subject.ID,
			NewValues:  []byte(fmt.Sprintf(`{"removed":%q}`, studentID)),
		}); err != nil {
			s.logger.Warn("failed to record marks audit log", zap.Error(err))
		}
	}
	return nil
}

func (s *MarksService) checkDeadline(exam *models.Exam, role models.UserRole) error {
	if exam.MarksEntryDeadline == nil {
		return nil
	}
	if !time.Now().UTC().After(*exam.MarksEntryDeadline) {
		return nil
	}
	if role == models.RoleAdmin {
		return nil
	}
	if !s.deadlineAdminOnly && role == models.RoleTeacher {
		return nil
	}
	return appErrors.Clone(appErrors.ErrDeadlineExceeded, "marks entry deadline has passed")
}

func (s *MarksService) examRoster(ctx context.Context, exam *models.Exam) ([]models.Student, error) {
	var (
		students []models.Student
		err      error
	)
	if exam.ClassID != nil && *exam.ClassID != "" {
		students, err = s.roster.ListStudentsByClass(ctx, *exam.ClassID)
	} else {
		students, err = s.roster.ListStudentsByGrade(ctx, exam.GradeID)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return students, nil
}
