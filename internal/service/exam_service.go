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

type examStore interface {
	Create(ctx context.Context, exam *models.Exam, subjects []models.ExamSubject) error
	FindByID(ctx context.Context, id string) (*models.Exam, error)
	List(ctx context.Context, filter models.ExamFilter) ([]models.Exam, int, error)
	Transition(ctx context.Context, transition *models.ExamTransition, publishedAt *time.Time, partialReview *bool) error
	SetRetired(ctx context.Context, id string, retired bool) error
	ListTransitions(ctx context.Context, examID string) ([]models.ExamTransition, error)
	ListSubjects(ctx context.Context, examID string) ([]models.ExamSubject, error)
	CountIncompleteSubjects(ctx context.Context, examID string) (int, error)
	UpdateDeadlines(ctx context.Context, id string, marksEntry, review *time.Time) error
}

type examRosterReader interface {
	FindGrade(ctx context.Context, id string) (*models.Grade, error)
	FindClass(ctx context.Context, id string) (*models.Class, error)
	FindSubject(ctx context.Context, id string) (*models.Subject, error)
}

type examAuditor interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ExamSubjectRequest declares one subject slot when creating an exam.
type ExamSubjectRequest struct {
	SubjectID string  `json:"subject_id" validate:"required"`
	TeacherID *string `json:"teacher_id"`
	MaxMarks  float64 `json:"max_marks" validate:"required,gt=0"`
}

// CreateExamRequest is the payload for opening a new exam in draft.
type CreateExamRequest struct {
	Title              string               `json:"title" validate:"required"`
	GradeID            string               `json:"grade_id" validate:"required"`
	ClassID            *string              `json:"class_id"`
	Term               int                  `json:"term" validate:"required,min=1,max=3"`
	Year               int                  `json:"year" validate:"required,min=2000"`
	ExamType           models.ExamType      `json:"exam_type" validate:"required,oneof=TERM MID_TERM"`
	MarksEntryDeadline *time.Time           `json:"marks_entry_deadline"`
	ReviewDeadline     *time.Time           `json:"review_deadline"`
	Subjects           []ExamSubjectRequest `json:"subjects" validate:"required,min=1,dive"`
}

// TransitionRequest carries the actor context for a workflow move.
type TransitionRequest struct {
	ExamID    string
	ActorID   string
	ActorRole models.UserRole
	Note      string
	// Override lets an admin advance to review with incomplete subjects;
	// the exam is flagged for partial review.
	Override bool
}

// WorkflowStatus describes where an exam sits in its lifecycle.
type WorkflowStatus struct {
	Exam               *models.Exam            `json:"exam"`
	Subjects           []models.ExamSubject    `json:"subjects"`
	IncompleteSubjects int                     `json:"incomplete_subjects"`
	Transitions        []models.ExamTransition `json:"transitions"`
}

// ExamService drives the exam lifecycle from draft through publication.
type ExamService struct {
	exams     examStore
	roster    examRosterReader
	audits    examAuditor
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewExamService constructs an ExamService.
func NewExamService(exams examStore, roster examRosterReader, audits examAuditor, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ExamService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExamService{exams: exams, roster: roster, audits: audits, metrics: metrics, validator: validate, logger: logger}
}

// Create opens a new exam in DRAFT with its subject slots.
func (s *ExamService) Create(ctx context.Context, req CreateExamRequest, actorID string) (*models.Exam, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exam payload")
	}
	if _, err := s.roster.FindGrade(ctx, req.GradeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	if req.ClassID != nil && *req.ClassID != "" {
		class, err := s.roster.FindClass(ctx, *req.ClassID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
		}
		if class.GradeID != req.GradeID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "class does not belong to the exam grade")
		}
	}

	subjects := make([]models.ExamSubject, 0, len(req.Subjects))
	seen := make(map[string]bool, len(req.Subjects))
	for _, sub := range req.Subjects {
		if seen[sub.SubjectID] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate subject %s", sub.SubjectID))
		}
		seen[sub.SubjectID] = true
		subject, err := s.roster.FindSubject(ctx, sub.SubjectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("subject %s not found", sub.SubjectID))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
		}
		subjects = append(subjects, models.ExamSubject{
			SubjectID:   subject.ID,
			SubjectName: subject.Name,
			TeacherID:   sub.TeacherID,
			MaxMarks:    sub.MaxMarks,
		})
	}

	exam := &models.Exam{
		Title:              req.Title,
		GradeID:            req.GradeID,
		ClassID:            req.ClassID,
		Term:               req.Term,
		Year:               req.Year,
		ExamType:           req.ExamType,
		Status:             models.ExamStatusDraft,
		MarksEntryDeadline: req.MarksEntryDeadline,
		ReviewDeadline:     req.ReviewDeadline,
		CreatedBy:          actorID,
	}
	if err := s.exams.Create(ctx, exam, subjects); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create exam")
	}

	s.recordAudit(ctx, actorID, models.AuditActionExamCreate, exam.ID, fmt.Sprintf(`{"title":%q}`, exam.Title))
	return exam, nil
}

// Get returns one exam.
func (s *ExamService) Get(ctx context.Context, id string) (*models.Exam, error) {
	exam, err := s.exams.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	return exam, nil
}

// List returns exams matching the filter.
func (s *ExamService) List(ctx context.Context, filter models.ExamFilter) ([]models.Exam, int, error) {
	exams, total, err := s.exams.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list exams")
	}
	return exams, total, nil
}

// StartMarksEntry opens marks entry. A DRAFT exam moves forward; a
// CLASS_REVIEW exam is reopened for corrections. Calling it on an exam
// already in MARKS_ENTRY changes nothing.
func (s *ExamService) StartMarksEntry(ctx context.Context, req TransitionRequest) (*models.Exam, error) {
	exam, err := s.Get(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}
	if exam.Retired {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "exam is retired")
	}
	switch exam.Status {
	case models.ExamStatusMarksEntry:
		return exam, nil
	case models.ExamStatusDraft, models.ExamStatusClassReview:
		return s.transition(ctx, req, exam.Status, models.ExamStatusMarksEntry, nil, nil)
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("exam is %s, expected %s or %s", exam.Status, models.ExamStatusDraft, models.ExamStatusClassReview))
	}
}

// AdvanceToReview moves MARKS_ENTRY -> CLASS_REVIEW. All subject slots must
// be complete unless an admin forces the move, which flags the exam for
// partial review.
func (s *ExamService) AdvanceToReview(ctx context.Context, req TransitionRequest) (*models.Exam, error) {
	exam, err := s.lockTransition(ctx, req.ExamID, models.ExamStatusMarksEntry)
	if err != nil {
		return nil, err
	}
	incomplete, err := s.exams.CountIncompleteSubjects(ctx, exam.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect subjects")
	}
	if incomplete > 0 {
		if !req.Override {
			return nil, appErrors.Clone(appErrors.ErrIncompleteMarks, fmt.Sprintf("%d subject(s) still missing marks", incomplete))
		}
		if req.ActorRole != models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may force review with incomplete marks")
		}
		req.Note = joinNote(req.Note, "forced with incomplete marks")
	}
	// A clean advance clears any flag left behind by an earlier forced run.
	partial := incomplete > 0
	return s.transition(ctx, req, models.ExamStatusMarksEntry, models.ExamStatusClassReview, nil, &partial)
}

// ReadyToPublish moves CLASS_REVIEW -> READY_TO_PUBLISH.
func (s *ExamService) ReadyToPublish(ctx context.Context, req TransitionRequest) (*models.Exam, error) {
	return s.transition(ctx, req, models.ExamStatusClassReview, models.ExamStatusReadyToPublish, nil, nil)
}

// Publish moves READY_TO_PUBLISH -> PUBLISHED and stamps the publication
// time. Publishing an already published exam is a no-op.
func (s *ExamService) Publish(ctx context.Context, req TransitionRequest) (*models.Exam, error) {
	exam, err := s.Get(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}
	if exam.Status == models.ExamStatusPublished {
		return exam, nil
	}
	now := time.Now().UTC()
	return s.transition(ctx, req, models.ExamStatusReadyToPublish, models.ExamStatusPublished, &now, nil)
}

// Retire hides an exam from default listings. Published data stays intact.
func (s *ExamService) Retire(ctx context.Context, req TransitionRequest) error {
	exam, err := s.Get(ctx, req.ExamID)
	if err != nil {
		return err
	}
	if exam.Retired {
		return nil
	}
	if err := s.exams.SetRetired(ctx, exam.ID, true); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire exam")
	}
	s.recordAudit(ctx, req.ActorID, models.AuditActionExamTransition, exam.ID, `{"retired":true}`)
	return nil
}

// Restore clears the retired flag.
func (s *ExamService) Restore(ctx context.Context, req TransitionRequest) error {
	exam, err := s.Get(ctx, req.ExamID)
	if err != nil {
		return err
	}
	if !exam.Retired {
		return nil
	}
	if err := s.exams.SetRetired(ctx, exam.ID, false); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore exam")
	}
	s.recordAudit(ctx, req.ActorID, models.AuditActionExamTransition, exam.ID, `{"retired":false}`)
	return nil
}

// UpdateDeadlinesRequest reschedules the marks entry and review deadlines.
type UpdateDeadlinesRequest struct {
	ExamID             string     `json:"-"`
	ActorID            string     `json:"-"`
	MarksEntryDeadline *time.Time `json:"marks_entry_deadline"`
	ReviewDeadline     *time.Time `json:"review_deadline"`
}

// UpdateDeadlines reschedules the exam deadlines. Published exams are frozen.
func (s *ExamService) UpdateDeadlines(ctx context.Context, req UpdateDeadlinesRequest) (*models.Exam, error) {
	exam, err := s.Get(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}
	if exam.Status == models.ExamStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot reschedule a published exam")
	}
	if req.MarksEntryDeadline != nil && req.ReviewDeadline != nil && req.ReviewDeadline.Before(*req.MarksEntryDeadline) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "review deadline precedes marks entry deadline")
	}
	if err := s.exams.UpdateDeadlines(ctx, exam.ID, req.MarksEntryDeadline, req.ReviewDeadline); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update deadlines")
	}
	s.recordAudit(ctx, req.ActorID, models.AuditActionExamTransition, exam.ID, `{"deadlines":"updated"}`)
	return s.Get(ctx, req.ExamID)
}

// Workflow returns the exam with its subjects and transition history.
func (s *ExamService) Workflow(ctx context.Context, examID string) (*WorkflowStatus, error) {
	exam, err := s.Get(ctx, examID)
	if err != nil {
		return nil, err
	}
	subjects, err := s.exams.ListSubjects(ctx, exam.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	incomplete := 0
	for _, sub := range subjects {
		if !sub.MarksEntered {
			incomplete++
		}
	}
	transitions, err := s.exams.ListTransitions(ctx, exam.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list transitions")
	}
	return &WorkflowStatus{
		Exam:               exam,
		Subjects:           subjects,
		IncompleteSubjects: incomplete,
		Transitions:        transitions,
	}, nil
}

func (s *ExamService) lockTransition(ctx context.Context, examID string, expected models.ExamStatus) (*models.Exam, error) {
	exam, err := s.Get(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Retired {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "exam is retired")
	}
	if exam.Status != expected {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("exam is %s, expected %s", exam.Status, expected))
	}
	return exam, nil
}

func (s *ExamService) transition(ctx context.Context, req TransitionRequest, from, to models.ExamStatus, publishedAt *time.Time, partialReview *bool) (*models.Exam, error) {
	if _, err := s.lockTransition(ctx, req.ExamID, from); err != nil {
		return nil, err
	}
	err := s.exams.Transition(ctx, &models.ExamTransition{
		ExamID:     req.ExamID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    req.ActorID,
		Note:       req.Note,
	}, publishedAt, partialReview)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another actor transitioned the exam between the check and
			// the guarded update.
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "exam status changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition exam")
	}

	s.metrics.RecordExamTransition(string(to))
	s.recordAudit(ctx, req.ActorID, models.AuditActionExamTransition, req.ExamID, fmt.Sprintf(`{"from":%q,"to":%q}`, from, to))
	return s.Get(ctx, req.ExamID)
}

func (s *ExamService) recordAudit(ctx context.Context, actorID, action, resourceID, payload string) {
	if s.audits == nil {
		return
	}
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "exam",
		ResourceID: &resourceID,
		NewValues:  []byte(payload),
	}); err != nil {
		s.logger.Warn("failed to record exam audit log", zap.Error(err))
	}
}

func joinNote(note, extra string) string {
	if note == "" {
		return extra
	}
	return note + "; " + extra
}
