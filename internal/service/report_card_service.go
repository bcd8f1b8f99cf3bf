package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-core-api/internal/grading"
	"github.com/noah-isme/exam-core-api/internal/models"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
)

type reportCardStore interface {
	CreateGeneration(ctx context.Context, gen *models.ReportCardGeneration, cards []models.ReportCard) error
	FindGeneration(ctx context.Context, id string) (*models.ReportCardGeneration, error)
	ListGenerations(ctx context.Context, examID, classID string) ([]models.ReportCardGeneration, error)
	ListCards(ctx context.Context, generationID string) ([]models.ReportCard, error)
	FindCardForStudent(ctx context.Context, generationID, studentID string) (*models.ReportCard, error)
	FindCard(ctx context.Context, cardID string) (*models.ReportCard, error)
	UpdateCardStatus(ctx context.Context, cardID string, from, to models.ReportCardStatus) error
}

type cardExamReader interface {
	FindByID(ctx context.Context, id string) (*models.Exam, error)
	ListSubjects(ctx context.Context, examID string) ([]models.ExamSubject, error)
}

type cardRosterReader interface {
	FindClass(ctx context.Context, id string) (*models.Class, error)
	ListStudentsByClass(ctx context.Context, classID string) ([]models.Student, error)
}

type cardResultReader interface {
	FetchByStudents(ctx context.Context, examID string, studentIDs []string) (map[string][]models.ExamResult, error)
}

// GenerateCardsRequest asks for a fresh report card generation for one class.
type GenerateCardsRequest struct {
	ExamID      string `json:"exam_id" validate:"required"`
	ClassID     string `json:"class_id" validate:"required"`
	InitiatorID string `json:"-"`
}

// ReportCardService produces point-in-time report card snapshots. A run
// always computes from the raw marks ledger, never from stored summaries,
// and always creates a new generation.
type ReportCardService struct {
	cards     reportCardStore
	exams     cardExamReader
	roster    cardRosterReader
	results   cardResultReader
	audits    examAuditor
	metrics   *MetricsService
	cache     *CacheService
	scale     grading.Scale
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReportCardService constructs a ReportCardService.
func NewReportCardService(cards reportCardStore, exams cardExamReader, roster cardRosterReader, results cardResultReader, audits examAuditor, metrics *MetricsService, cache *CacheService, scale grading.Scale, validate *validator.Validate, logger *zap.Logger) *ReportCardService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportCardService{
		cards:     cards,
		exams:     exams,
		roster:    roster,
		results:   results,
		audits:    audits,
		metrics:   metrics,
		cache:     cache,
		scale:     scale,
		validator: validate,
		logger:    logger,
	}
}

// Generate computes and stores a new generation of report cards for a class.
// Earlier generations are untouched; two runs over the same ledger yield two
// generations with identical per-student data.
func (s *ReportCardService) Generate(ctx context.Context, req GenerateCardsRequest) (*models.ReportCardGeneration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload")
	}

	exam, err := s.exams.FindByID(ctx, req.ExamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	if exam.Status != models.ExamStatusPublished && exam.Status != models.ExamStatusReadyToPublish {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("report cards require a publishable exam, status is %s", exam.Status))
	}

	class, err := s.roster.FindClass(ctx, req.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.GradeID != exam.GradeID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class does not belong to the exam grade")
	}
	if exam.ClassID != nil && *exam.ClassID != "" && *exam.ClassID != class.ID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exam is scoped to a different class")
	}

	students, err := s.roster.ListStudentsByClass(ctx, class.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	subjects, err := s.exams.ListSubjects(ctx, exam.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	subjectBySlot := make(map[string]models.ExamSubject, len(subjects))
	for _, sub := range subjects {
		subjectBySlot[sub.ID] = sub
	}

	ids := make([]string, 0, len(students))
	for _, student := range students {
		ids = append(ids, student.ID)
	}
	resultsByStudent, err := s.results.FetchByStudents(ctx, exam.ID, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load results")
	}

	cards := make([]models.ReportCard, 0, len(students))
	for _, student := range students {
		rows := resultsByStudent[student.ID]
		if len(rows) == 0 {
			// Students with no valid result get no card; the generation is
			// a snapshot of produced results.
			continue
		}
		card := s.buildCard(exam, class, student, rows, subjectBySlot)
		cards = append(cards, card)
	}
	if len(cards) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoResults, "no results recorded for this class")
	}

	rankCards(cards)

	var percentageTotal float64
	for _, card := range cards {
		percentageTotal += card.Percentage
	}

	gen := &models.ReportCardGeneration{
		ExamID:            exam.ID,
		ClassID:           class.ID,
		InitiatorID:       req.InitiatorID,
		Label:             fmt.Sprintf("%d Term %d %s - %s", exam.Year, exam.Term, exam.Title, class.Name),
		ExamTitle:         exam.Title,
		ClassName:         class.Name,
		TotalStudents:     len(cards),
		AveragePercentage: roundTwo(percentageTotal / float64(len(cards))),
	}
	if err := s.cards.CreateGeneration(ctx, gen, cards); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store generation")
	}
	s.metrics.RecordCardGeneration()

	if s.cache.Enabled() {
		if err := s.cache.DeleteByPattern(ctx, "cards:"+exam.ID+":*"); err != nil {
			s.logger.Warn("failed to invalidate card cache", zap.String("exam_id", exam.ID), zap.Error(err))
		}
	}
	if s.audits != nil {
		initiatorID := req.InitiatorID
		if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &initiatorID,
			Action:     models.AuditActionReportGenerate,
			Resource:   "report_card_generation",
			ResourceID: &gen.ID,
			NewValues:  []byte(fmt.Sprintf(`{"label":%q,"cards":%d}`, gen.Label, len(cards))),
		}); err != nil {
			s.logger.Warn("failed to record generation audit log", zap.Error(err))
		}
	}

	return gen, nil
}

// ListGenerations returns generation headers, newest first.
func (s *ReportCardService) ListGenerations(ctx context.Context, examID, classID string) ([]models.ReportCardGeneration, error) {
	gens, err := s.cards.ListGenerations(ctx, examID, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list generations")
	}
	return gens, nil
}

// GenerationCards returns all cards of one generation.
func (s *ReportCardService) GenerationCards(ctx context.Context, generationID string) ([]models.ReportCard, error) {
	if _, err := s.cards.FindGeneration(ctx, generationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "generation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation")
	}
	cards, err := s.cards.ListCards(ctx, generationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cards")
	}
	return cards, nil
}

// StudentCard returns one student's card from a generation. Students and
// parents may only read their own.
func (s *ReportCardService) StudentCard(ctx context.Context, generationID, studentID string, actorID string, role models.UserRole) (*models.ReportCard, error) {
	if role == models.RoleStudent && actorID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only read their own card")
	}
	card, err := s.cards.FindCardForStudent(ctx, generationID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report card not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load card")
	}
	return card, nil
}

var cardStatusOrder = map[models.ReportCardStatus]int{
	models.ReportCardStatusDraft:     0,
	models.ReportCardStatusPublished: 1,
	models.ReportCardStatusApproved:  2,
}

// UpdateCardStatus moves a card one step forward through
// DRAFT -> PUBLISHED -> APPROVED. Repeating the current status is a no-op;
// moving backwards or skipping a step is rejected.
func (s *ReportCardService) UpdateCardStatus(ctx context.Context, cardID string, status models.ReportCardStatus) error {
	target, ok := cardStatusOrder[status]
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, "unknown report card status")
	}
	card, err := s.cards.FindCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "report card not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load card")
	}
	if card.Status == status {
		return nil
	}
	if target != cardStatusOrder[card.Status]+1 {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move card from %s to %s", card.Status, status))
	}
	if err := s.cards.UpdateCardStatus(ctx, cardID, card.Status, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "card status changed concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update card status")
	}
	return nil
}

func (s *ReportCardService) buildCard(exam *models.Exam, class *models.Class, student models.Student, rows []models.ExamResult, subjectBySlot map[string]models.ExamSubject) models.ReportCard {
	var totalMarks, totalMax, percentTotal float64
	lines := make([]models.ReportCardSubject, 0, len(rows))
	for _, row := range rows {
		slot, ok := subjectBySlot[row.ExamSubjectID]
		if !ok {
			continue
		}
		line := models.ReportCardSubject{
			SubjectID:   slot.SubjectID,
			SubjectName: slot.SubjectName,
			Marks:       row.Marks,
			MaxMarks:    slot.MaxMarks,
			IsAbsent:    row.IsAbsent,
		}
		totalMax += slot.MaxMarks
		if !row.IsAbsent && row.Marks != nil {
			line.Percentage = roundTwo(grading.Percentage(*row.Marks, slot.MaxMarks))
			totalMarks += *row.Marks
		}
		line.LetterGrade = s.scale.Classify(line.Percentage)
		percentTotal += line.Percentage
		lines = append(lines, line)
	}

	average := roundTwo(percentTotal / float64(len(lines)))
	return models.ReportCard{
		ExamID:        exam.ID,
		ClassID:       class.ID,
		StudentID:     student.ID,
		StudentName:   student.FullName(),
		TotalMarks:    totalMarks,
		TotalMaxMarks: totalMax,
		Percentage:    roundTwo(grading.Percentage(totalMarks, totalMax)),
		Average:       average,
		OverallGrade:  s.scale.Classify(average),
		ClassSize:     0,
		Status:        models.ReportCardStatusDraft,
		Subjects:      lines,
	}
}

func rankCards(cards []models.ReportCard) {
	entries := make([]grading.Ranked, 0, len(cards))
	for _, card := range cards {
		entries = append(entries, grading.Ranked{StudentID: card.StudentID, Value: card.Average})
	}
	ranks := grading.RankByID(entries)
	for i := range cards {
		cards[i].ClassRank = ranks[cards[i].StudentID]
		cards[i].ClassSize = len(cards)
	}
}
