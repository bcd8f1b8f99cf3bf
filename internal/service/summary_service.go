package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-core-api/internal/grading"
	"github.com/noah-isme/exam-core-api/internal/models"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
)

type summaryStore interface {
	ReplaceForExam(ctx context.Context, examID string, summaries []models.ExamSummary) error
	ListByExam(ctx context.Context, examID string) ([]models.ExamSummary, error)
	FindForStudent(ctx context.Context, examID, studentID string) (*models.ExamSummary, error)
}

type summaryExamReader interface {
	FindByID(ctx context.Context, id string) (*models.Exam, error)
	ListSubjects(ctx context.Context, examID string) ([]models.ExamSubject, error)
}

type summaryResultReader interface {
	ListByExam(ctx context.Context, examID string, filter models.ResultFilter) ([]models.ExamResult, error)
}

// SummaryReport is the output of one recompute run.
type SummaryReport struct {
	ExamID                 string               `json:"exam_id"`
	Summaries              []models.ExamSummary `json:"summaries"`
	StudentsWithoutResults []string             `json:"students_without_results,omitempty"`
	ComputedAt             time.Time            `json:"computed_at"`
}

// SummaryService rebuilds the per-student aggregates for an exam from the
// raw marks ledger. Each run fully replaces the previous one.
type SummaryService struct {
	summaries summaryStore
	exams     summaryExamReader
	results   summaryResultReader
	roster    marksRosterReader
	metrics   *MetricsService
	cache     *CacheService
	scale     grading.Scale
	logger    *zap.Logger
}

// NewSummaryService constructs a SummaryService.
func NewSummaryService(summaries summaryStore, exams summaryExamReader, results summaryResultReader, roster marksRosterReader, metrics *MetricsService, cache *CacheService, scale grading.Scale, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{
		summaries: summaries,
		exams:     exams,
		results:   results,
		roster:    roster,
		metrics:   metrics,
		cache:     cache,
		scale:     scale,
		logger:    logger,
	}
}

// Recompute rebuilds every student summary for the exam. Students with no
// valid result are excluded from ranking and reported separately; an absence
// counts as a valid (zero) result, a missing row does not.
func (s *SummaryService) Recompute(ctx context.Context, examID string) (*SummaryReport, error) {
	exam, err := s.exams.FindByID(ctx, examID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}

	roster, err := s.loadRoster(ctx, exam)
	if err != nil {
		return nil, err
	}
	subjects, err := s.exams.ListSubjects(ctx, exam.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	maxBySubjectSlot := make(map[string]float64, len(subjects))
	for _, sub := range subjects {
		maxBySubjectSlot[sub.ID] = sub.MaxMarks
	}

	start := time.Now()
	results, err := s.results.ListByExam(ctx, exam.ID, models.ResultFilter{})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list results")
	}
	s.metrics.ObserveDBQuery("summary_results", time.Since(start))
	byStudent := make(map[string][]models.ExamResult, len(roster))
	for _, result := range results {
		byStudent[result.StudentID] = append(byStudent[result.StudentID], result)
	}

	classOf := make(map[string]string, len(roster))
	summaries := make([]models.ExamSummary, 0, len(roster))
	var withoutResults []string
	for _, student := range roster {
		rows := byStudent[student.ID]
		if len(rows) == 0 {
			withoutResults = append(withoutResults, student.ID)
			continue
		}
		var total, percentTotal float64
		count := 0
		for _, row := range rows {
			count++
			if row.IsAbsent || row.Marks == nil {
				continue
			}
			total += *row.Marks
			percentTotal += grading.Percentage(*row.Marks, maxBySubjectSlot[row.ExamSubjectID])
		}
		// Average over submitted subjects only, not the full subject list.
		average := roundTwo(percentTotal / float64(count))
		summaries = append(summaries, models.ExamSummary{
			StudentID:    student.ID,
			TotalMarks:   total,
			Average:      average,
			OverallGrade: s.scale.Classify(average),
			ResultCount:  count,
		})
		classOf[student.ID] = student.ClassID
	}

	s.assignRanks(summaries, classOf)

	if err := s.summaries.ReplaceForExam(ctx, exam.ID, summaries); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store summaries")
	}
	if s.cache.Enabled() {
		if err := s.cache.DeleteByPattern(ctx, "exam:"+exam.ID+":*"); err != nil {
			s.logger.Warn("failed to invalidate summary cache", zap.String("exam_id", exam.ID), zap.Error(err))
		}
	}

	return &SummaryReport{
		ExamID:                 exam.ID,
		Summaries:              summaries,
		StudentsWithoutResults: withoutResults,
		ComputedAt:             time.Now().UTC(),
	}, nil
}

// ListByExam returns stored summaries, serving published exams from cache
// when possible.
func (s *SummaryService) ListByExam(ctx context.Context, examID string) ([]models.ExamSummary, error) {
	cacheKey := "exam:" + examID + ":summaries"
	var cached []models.ExamSummary
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	summaries, err := s.summaries.ListByExam(ctx, examID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list summaries")
	}
	if len(summaries) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoResults, "no summaries computed for this exam")
	}
	if err := s.cache.Set(ctx, cacheKey, summaries, 0); err != nil {
		s.logger.Warn("failed to cache summaries", zap.String("exam_id", examID), zap.Error(err))
	}
	return summaries, nil
}

// ForStudent returns one student's summary for an exam.
func (s *SummaryService) ForStudent(ctx context.Context, examID, studentID string) (*models.ExamSummary, error) {
	summary, err := s.summaries.FindForStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNoResults, "no summary for this student")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load summary")
	}
	return summary, nil
}

// assignRanks fills class and grade ranks. Class rank compares students
// within the same class; grade rank compares the whole roster.
func (s *SummaryService) assignRanks(summaries []models.ExamSummary, classOf map[string]string) {
	gradeEntries := make([]grading.Ranked, 0, len(summaries))
	classEntries := make(map[string][]grading.Ranked)
	for _, sum := range summaries {
		entry := grading.Ranked{StudentID: sum.StudentID, Value: sum.Average}
		gradeEntries = append(gradeEntries, entry)
		classID := classOf[sum.StudentID]
		classEntries[classID] = append(classEntries[classID], entry)
	}

	gradeRanks := grading.RankByID(gradeEntries)
	classRanks := make(map[string]int, len(summaries))
	for _, entries := range classEntries {
		for id, rank := range grading.RankByID(entries) {
			classRanks[id] = rank
		}
	}

	for i := range summaries {
		summaries[i].GradeRank = gradeRanks[summaries[i].StudentID]
		summaries[i].ClassRank = classRanks[summaries[i].StudentID]
	}
}

func (s *SummaryService) loadRoster(ctx context.Context, exam *models.Exam) ([]models.Student, error) {
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

func roundTwo(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.RoundToEven(v*100) / 100
}
