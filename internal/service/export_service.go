package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-core-api/internal/models"
	"github.com/noah-isme/exam-core-api/internal/repository"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
	"github.com/noah-isme/exam-core-api/pkg/export"
	"github.com/noah-isme/exam-core-api/pkg/jobs"
	"github.com/noah-isme/exam-core-api/pkg/storage"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListPending(ctx context.Context) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
}

type generationReader interface {
	FindGeneration(ctx context.Context, id string) (*models.ReportCardGeneration, error)
	ListCards(ctx context.Context, generationID string) ([]models.ReportCard, error)
}

type exportFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	Cleanup(maxAge time.Duration) (int, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type csvRenderer interface {
	RenderCardTable(rows []export.CardRow) ([]byte, error)
}

type cardPDFRenderer interface {
	RenderCards(title string, docs []export.CardDocument) ([]byte, error)
}

// ExportServiceConfig governs file lifetime and download URL layout.
type ExportServiceConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ExportFormat
	ExpiresAt time.Time
}

// ExportService queues and renders report-card generation exports. Rendering
// happens on the jobs worker pool; finished files are served through signed
// download tokens.
type ExportService struct {
	jobs        exportJobStore
	generations generationReader
	storage     exportFileStorage
	queue       jobDispatcher
	signer      *storage.SignedURLSigner
	csv         csvRenderer
	pdf         cardPDFRenderer
	logger      *zap.Logger
	cfg         ExportServiceConfig
}

// NewExportService constructs an ExportService.
func NewExportService(jobStore exportJobStore, generations generationReader, fileStorage exportFileStorage, queue jobDispatcher, signer *storage.SignedURLSigner, cfg ExportServiceConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ExportService{
		jobs:        jobStore,
		generations: generations,
		storage:     fileStorage,
		queue:       queue,
		signer:      signer,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		logger:      logger,
		cfg:         cfg,
	}
}

// CreateJob persists an export job for a generation and enqueues rendering.
func (s *ExportService) CreateJob(ctx context.Context, generationID string, format models.ExportFormat, actorID string) (*models.ExportJob, error) {
	if format != models.ExportFormatCSV && format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	if _, err := s.generations.FindGeneration(ctx, generationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "generation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation")
	}

	job := &models.ExportJob{
		GenerationID: generationID,
		Format:       format,
		Status:       models.ExportStatusQueued,
		CreatedBy:    actorID,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "export"}); err != nil {
		status := models.ExportStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		progress := 100
		_ = s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return job, nil
}

// GetStatus exposes job metadata, enforcing ownership for teachers.
func (s *ExportService) GetStatus(ctx context.Context, id, actorID string, role models.UserRole) (*models.ExportJob, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if role == models.RoleTeacher && job.CreatedBy != actorID {
		return nil, appErrors.ErrForbidden
	}
	return job, nil
}

// ResolveDownload validates a signed token and opens the stored file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	claim, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.jobs.FindByID(ctx, claim.JobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	file, err := s.storage.Open(claim.Path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:      file,
		Filename:  filepath.Base(claim.Path),
		Format:    job.Format,
		ExpiresAt: claim.ExpiresAt,
	}, nil
}

// Handle renders one queued export. Wired as the jobs queue handler.
func (s *ExportService) Handle(ctx context.Context, job jobs.Job) error {
	record, err := s.jobs.FindByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.ExportStatusProcessing
	progress := 10
	if err := s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:   &processing,
		Progress: &progress,
	}); err != nil {
		return err
	}

	url, renderErr := s.render(ctx, record)
	if renderErr != nil {
		msg := renderErr.Error()
		if job.Attempt >= s.cfg.MaxRetries {
			failed := models.ExportStatusFailed
			progress = 100
			now := time.Now().UTC()
			if updateErr := s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
				Status:       &failed,
				Progress:     &progress,
				ErrorMessage: &msg,
				FinishedAt:   &now,
			}); updateErr != nil {
				s.logger.Warn("failed to mark export failed", zap.String("job_id", job.ID), zap.Error(updateErr))
			}
		} else {
			queued := models.ExportStatusQueued
			reset := 0
			if updateErr := s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
				Status:       &queued,
				Progress:     &reset,
				ErrorMessage: &msg,
			}); updateErr != nil {
				s.logger.Warn("failed to requeue export", zap.String("job_id", job.ID), zap.Error(updateErr))
			}
		}
		return renderErr
	}

	finished := models.ExportStatusFinished
	progress = 100
	now := time.Now().UTC()
	clear := ""
	if err := s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		Progress:     &progress,
		ResultURL:    &url,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		s.logger.Warn("failed to mark export finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	return nil
}

// RecoverPendingJobs re-enqueues jobs left in QUEUED or PROCESSING after a
// restart. The in-memory queue loses its backlog; the database does not.
func (s *ExportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.jobs.ListPending(ctx)
	if err != nil {
		s.logger.Warn("failed to list pending export jobs on startup", zap.Error(err))
		return
	}
	for _, job := range pending {
		if job.Status == models.ExportStatusProcessing {
			queued := models.ExportStatusQueued
			reset := 0
			if err := s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &queued, Progress: &reset}); err != nil {
				s.logger.Warn("failed to reset interrupted export", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
		}
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "export"}); err != nil {
			s.logger.Warn("failed to re-enqueue export", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("recovered pending export jobs", zap.Int("count", len(pending)))
	}
}

// StartCleanup boots a goroutine that purges expired export files.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *ExportService) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.ResultTTL)
	expired, err := s.jobs.ListFinishedBefore(ctx, cutoff, 100)
	if err != nil {
		s.logger.Warn("export cleanup list failed", zap.Error(err))
		return
	}
	for _, job := range expired {
		if job.ResultURL == nil {
			continue
		}
		parts := strings.Split(*job.ResultURL, "/")
		token := parts[len(parts)-1]
		claim, err := s.signer.Parse(token, true)
		if err != nil {
			continue
		}
		if err := s.storage.Delete(claim.Path); err != nil {
			s.logger.Warn("export cleanup delete failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if _, err := s.storage.Cleanup(s.cfg.ResultTTL); err != nil {
		s.logger.Warn("export filesystem cleanup failed", zap.Error(err))
	}
}

func (s *ExportService) render(ctx context.Context, job *models.ExportJob) (string, error) {
	gen, err := s.generations.FindGeneration(ctx, job.GenerationID)
	if err != nil {
		return "", fmt.Errorf("load generation: %w", err)
	}
	cards, err := s.generations.ListCards(ctx, gen.ID)
	if err != nil {
		return "", fmt.Errorf("load cards: %w", err)
	}

	var payload []byte
	switch job.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.RenderCardTable(buildCardRows(cards))
	case models.ExportFormatPDF:
		payload, err = s.pdf.RenderCards(gen.Label, buildCardDocuments(gen, cards))
	default:
		err = fmt.Errorf("unsupported format %s", job.Format)
	}
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("cards_%s_%s.%s", sanitizeFilename(gen.ClassName), time.Now().UTC().Format("20060102_150405"), job.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return "", err
	}

	token, _, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return "", err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/downloads/%s", prefix, token), nil
}

func buildCardRows(cards []models.ReportCard) []export.CardRow {
	rows := make([]export.CardRow, 0, len(cards))
	for _, card := range cards {
		rows = append(rows, export.CardRow{
			Rank:       card.ClassRank,
			Student:    card.StudentName,
			TotalMarks: card.TotalMarks,
			MaxMarks:   card.TotalMaxMarks,
			Percentage: card.Percentage,
			Average:    card.Average,
			Grade:      card.OverallGrade,
		})
	}
	return rows
}

func buildCardDocuments(gen *models.ReportCardGeneration, cards []models.ReportCard) []export.CardDocument {
	docs := make([]export.CardDocument, 0, len(cards))
	for _, card := range cards {
		rows := make([]map[string]string, 0, len(card.Subjects))
		for _, line := range card.Subjects {
			marks := "-"
			if line.IsAbsent {
				marks = "absent"
			} else if line.Marks != nil {
				marks = fmt.Sprintf("%.2f", *line.Marks)
			}
			rows = append(rows, map[string]string{
				"Subject":    line.SubjectName,
				"Marks":      marks,
				"Max":        fmt.Sprintf("%.2f", line.MaxMarks),
				"Percentage": fmt.Sprintf("%.2f", line.Percentage),
				"Grade":      line.LetterGrade,
			})
		}
		docs = append(docs, export.CardDocument{
			Heading: gen.Label,
			Student: card.StudentName,
			Summary: [][2]string{
				{"Total", fmt.Sprintf("%.2f / %.2f", card.TotalMarks, card.TotalMaxMarks)},
				{"Average", fmt.Sprintf("%.2f%%", card.Average)},
				{"Overall Grade", card.OverallGrade},
				{"Class Rank", fmt.Sprintf("%d of %d", card.ClassRank, card.ClassSize)},
			},
			Table: export.Dataset{
				Headers: []string{"Subject", "Marks", "Max", "Percentage", "Grade"},
				Rows:    rows,
			},
		})
	}
	return docs
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
