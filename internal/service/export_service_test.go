package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-core-api/internal/models"
	"github.com/noah-isme/exam-core-api/internal/repository"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
	"github.com/noah-isme/exam-core-api/pkg/jobs"
	"github.com/noah-isme/exam-core-api/pkg/storage"
)

type mockExportJobStore struct {
	byID map[string]*models.ExportJob
	seq  int
}

func newMockExportJobStore() *mockExportJobStore {
	return &mockExportJobStore{byID: make(map[string]*models.ExportJob)}
}

func (m *mockExportJobStore) Create(ctx context.Context, job *models.ExportJob) error {
	m.seq++
	if job.ID == "" {
		job.ID = "job-" + string(rune('0'+m.seq))
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	copied := *job
	m.byID[job.ID] = &copied
	return nil
}

func (m *mockExportJobStore) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (m *mockExportJobStore) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := m.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *mockExportJobStore) ListPending(ctx context.Context) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range m.byID {
		if job.Status == models.ExportStatusQueued || job.Status == models.ExportStatusProcessing {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *mockExportJobStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range m.byID {
		if job.Status == models.ExportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

type mockGenerationReader struct {
	store *mockReportCardStore
	fail  bool
}

func (m *mockGenerationReader) FindGeneration(ctx context.Context, id string) (*models.ReportCardGeneration, error) {
	if m.fail {
		return nil, sql.ErrConnDone
	}
	return m.store.FindGeneration(ctx, id)
}

func (m *mockGenerationReader) ListCards(ctx context.Context, generationID string) ([]models.ReportCard, error) {
	return m.store.ListCards(ctx, generationID)
}

type mockExportQueue struct {
	enqueued []jobs.Job
}

func (m *mockExportQueue) Enqueue(job jobs.Job) error {
	m.enqueued = append(m.enqueued, job)
	return nil
}

func exportFixture(t *testing.T) (*ExportService, *mockExportJobStore, *mockExportQueue, *mockGenerationReader) {
	t.Helper()
	cards := newMockReportCardStore()
	marks := 85.0
	require.NoError(t, cards.CreateGeneration(context.Background(), &models.ReportCardGeneration{
		ExamID:    "exam-1",
		ClassID:   "class-7a",
		Label:     "2026 Term 1 First Term Test - 7A",
		ClassName: "7A",
	}, []models.ReportCard{
		{
			StudentID:     "st-1",
			StudentName:   "Amara Perera",
			TotalMarks:    85,
			TotalMaxMarks: 100,
			Percentage:    85,
			Average:       85,
			OverallGrade:  "A",
			ClassRank:     1,
			ClassSize:     1,
			Subjects: []models.ReportCardSubject{
				{SubjectName: "Mathematics", Marks: &marks, MaxMarks: 100, Percentage: 85, LetterGrade: "A"},
			},
		},
	}))

	store := newMockExportJobStore()
	queue := &mockExportQueue{}
	generations := &mockGenerationReader{store: cards}
	dir := t.TempDir()
	files, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("export-secret", time.Hour)

	svc := NewExportService(store, generations, files, queue, signer, ExportServiceConfig{MaxRetries: 2}, nil)
	return svc, store, queue, generations
}

func TestExportCreateJob(t *testing.T) {
	svc, store, queue, _ := exportFixture(t)

	job, err := svc.CreateJob(context.Background(), "gen-1", models.ExportFormatCSV, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, job.Status)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].ID)
	assert.NotNil(t, store.byID[job.ID])
}

func TestExportCreateJobRejectsUnknownGeneration(t *testing.T) {
	svc, _, _, _ := exportFixture(t)

	_, err := svc.CreateJob(context.Background(), "missing", models.ExportFormatCSV, "admin-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = svc.CreateJob(context.Background(), "gen-1", models.ExportFormat("xml"), "admin-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestExportHandleRendersAndFinishes(t *testing.T) {
	for _, format := range []models.ExportFormat{models.ExportFormatCSV, models.ExportFormatPDF} {
		t.Run(string(format), func(t *testing.T) {
			svc, store, _, _ := exportFixture(t)
			job, err := svc.CreateJob(context.Background(), "gen-1", format, "admin-1")
			require.NoError(t, err)

			require.NoError(t, svc.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 1}))

			stored := store.byID[job.ID]
			assert.Equal(t, models.ExportStatusFinished, stored.Status)
			assert.Equal(t, 100, stored.Progress)
			require.NotNil(t, stored.ResultURL)
			assert.True(t, strings.HasPrefix(*stored.ResultURL, "/api/v1/downloads/"))
			require.NotNil(t, stored.FinishedAt)

			token := strings.TrimPrefix(*stored.ResultURL, "/api/v1/downloads/")
			download, err := svc.ResolveDownload(context.Background(), token)
			require.NoError(t, err)
			defer download.File.Close()
			assert.Equal(t, format, download.Format)
		})
	}
}

func TestExportHandleRetriesThenFails(t *testing.T) {
	svc, store, _, generations := exportFixture(t)
	job, err := svc.CreateJob(context.Background(), "gen-1", models.ExportFormatCSV, "admin-1")
	require.NoError(t, err)
	generations.fail = true

	// First attempt goes back to the queue.
	err = svc.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 1})
	require.Error(t, err)
	assert.Equal(t, models.ExportStatusQueued, store.byID[job.ID].Status)

	// Final attempt marks it failed.
	err = svc.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 2})
	require.Error(t, err)
	stored := store.byID[job.ID]
	assert.Equal(t, models.ExportStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	require.NotNil(t, stored.FinishedAt)
}

func TestExportResolveDownloadRejectsBadToken(t *testing.T) {
	svc, _, _, _ := exportFixture(t)

	_, err := svc.ResolveDownload(context.Background(), "not-a-token")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestExportStatusOwnership(t *testing.T) {
	svc, _, _, _ := exportFixture(t)
	job, err := svc.CreateJob(context.Background(), "gen-1", models.ExportFormatCSV, "teacher-1")
	require.NoError(t, err)

	_, err = svc.GetStatus(context.Background(), job.ID, "teacher-2", models.RoleTeacher)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	got, err := svc.GetStatus(context.Background(), job.ID, "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	got, err = svc.GetStatus(context.Background(), job.ID, "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestExportRecoverPendingJobs(t *testing.T) {
	svc, store, queue, _ := exportFixture(t)

	queued := &models.ExportJob{ID: "job-q", GenerationID: "gen-1", Format: models.ExportFormatCSV, Status: models.ExportStatusQueued}
	interrupted := &models.ExportJob{ID: "job-p", GenerationID: "gen-1", Format: models.ExportFormatCSV, Status: models.ExportStatusProcessing, Progress: 10}
	store.byID[queued.ID] = queued
	store.byID[interrupted.ID] = interrupted

	svc.RecoverPendingJobs(context.Background())

	assert.Len(t, queue.enqueued, 2)
	assert.Equal(t, models.ExportStatusQueued, store.byID["job-p"].Status)
	assert.Equal(t, 0, store.byID["job-p"].Progress)
}
