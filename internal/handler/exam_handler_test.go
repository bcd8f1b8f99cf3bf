package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-core-api/internal/middleware"
	"github.com/noah-isme/exam-core-api/internal/models"
	"github.com/noah-isme/exam-core-api/internal/service"
)

type fakeExamStore struct {
	exam        *models.Exam
	transitions []models.ExamTransition
	incomplete  int
}

func (f *fakeExamStore) Create(ctx context.Context, exam *models.Exam, subjects []models.ExamSubject) error {
	exam.ID = "exam-1"
	f.exam = exam
	return nil
}

func (f *fakeExamStore) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	if f.exam == nil || f.exam.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *f.exam
	return &copied, nil
}

func (f *fakeExamStore) List(ctx context.Context, filter models.ExamFilter) ([]models.Exam, int, error) {
	if f.exam == nil {
		return nil, 0, nil
	}
	return []models.Exam{*f.exam}, 1, nil
}

func (f *fakeExamStore) Transition(ctx context.Context, tr *models.ExamTransition, publishedAt *time.Time, partialReview *bool) error {
	if f.exam == nil || f.exam.Status != tr.FromStatus {
		return sql.ErrNoRows
	}
	f.exam.Status = tr.ToStatus
	if publishedAt != nil {
		f.exam.PublishedAt = publishedAt
	}
	if partialReview != nil {
		f.exam.PartialReview = *partialReview
	}
	f.transitions = append(f.transitions, *tr)
	return nil
}

func (f *fakeExamStore) SetRetired(ctx context.Context, id string, retired bool) error {
	f.exam.Retired = retired
	return nil
}

func (f *fakeExamStore) ListTransitions(ctx context.Context, examID string) ([]models.ExamTransition, error) {
	return f.transitions, nil
}

func (f *fakeExamStore) ListSubjects(ctx context.Context, examID string) ([]models.ExamSubject, error) {
	return nil, nil
}

func (f *fakeExamStore) CountIncompleteSubjects(ctx context.Context, examID string) (int, error) {
	return f.incomplete, nil
}

func (f *fakeExamStore) UpdateDeadlines(ctx context.Context, id string, marksEntry, review *time.Time) error {
	if f.exam == nil || f.exam.ID != id {
		return sql.ErrNoRows
	}
	f.exam.MarksEntryDeadline = marksEntry
	f.exam.ReviewDeadline = review
	return nil
}

type fakeRoster struct{}

func (fakeRoster) FindGrade(ctx context.Context, id string) (*models.Grade, error) {
	return &models.Grade{ID: id, Level: 7}, nil
}

func (fakeRoster) FindClass(ctx context.Context, id string) (*models.Class, error) {
	return &models.Class{ID: id, Name: "7A", GradeID: "grade-7"}, nil
}

func (fakeRoster) FindSubject(ctx context.Context, id string) (*models.Subject, error) {
	return &models.Subject{ID: id, Name: "Mathematics"}, nil
}

func testContext(t *testing.T, method, path, body string, role models.UserRole) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, path, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "actor-1", Role: role})
	return c, rec
}

func TestExamHandlerCreate(t *testing.T) {
	store := &fakeExamStore{}
	handler := NewExamHandler(service.NewExamService(store, fakeRoster{}, nil, nil, nil, nil))

	body := `{"title":"First Term Test","grade_id":"grade-7","term":1,"year":2026,"exam_type":"TERM","subjects":[{"subject_id":"sub-math","max_marks":100}]}`
	c, rec := testContext(t, http.MethodPost, "/exams", body, models.RoleAdmin)

	handler.Create(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, store.exam)
	assert.Equal(t, models.ExamStatusDraft, store.exam.Status)
}

func TestExamHandlerCreateInvalidPayload(t *testing.T) {
	handler := NewExamHandler(service.NewExamService(&fakeExamStore{}, fakeRoster{}, nil, nil, nil, nil))

	c, rec := testContext(t, http.MethodPost, "/exams", `{"title":""}`, models.RoleAdmin)
	handler.Create(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExamHandlerPublishConflict(t *testing.T) {
	store := &fakeExamStore{exam: &models.Exam{ID: "exam-1", Status: models.ExamStatusDraft}}
	handler := NewExamHandler(service.NewExamService(store, fakeRoster{}, nil, nil, nil, nil))

	c, rec := testContext(t, http.MethodPost, "/exams/exam-1/publish", "", models.RoleAdmin)
	c.Params = gin.Params{{Key: "id", Value: "exam-1"}}
	handler.Publish(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExamHandlerAdvanceIncompleteMarks(t *testing.T) {
	store := &fakeExamStore{
		exam:       &models.Exam{ID: "exam-1", Status: models.ExamStatusMarksEntry},
		incomplete: 1,
	}
	handler := NewExamHandler(service.NewExamService(store, fakeRoster{}, nil, nil, nil, nil))

	c, rec := testContext(t, http.MethodPost, "/exams/exam-1/advance-review", "", models.RoleTeacher)
	c.Params = gin.Params{{Key: "id", Value: "exam-1"}}
	handler.AdvanceToReview(c)

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "INCOMPLETE_MARKS", envelope.Error.Code)
}

func TestExamHandlerWorkflow(t *testing.T) {
	store := &fakeExamStore{exam: &models.Exam{ID: "exam-1", Status: models.ExamStatusMarksEntry}}
	handler := NewExamHandler(service.NewExamService(store, fakeRoster{}, nil, nil, nil, nil))

	c, rec := testContext(t, http.MethodGet, "/exams/exam-1/workflow", "", models.RoleAdmin)
	c.Params = gin.Params{{Key: "id", Value: "exam-1"}}
	handler.Workflow(c)

	assert.Equal(t, http.StatusOK, rec.Code)
}
