package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-core-api/internal/grading"
	"github.com/noah-isme/exam-core-api/internal/models"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
)

type mockReportCardStore struct {
	generations map[string]*models.ReportCardGeneration
	cards       map[string][]models.ReportCard
	sequence    int
	raceTo      models.ReportCardStatus
}

func newMockReportCardStore() *mockReportCardStore {
	return &mockReportCardStore{
		generations: make(map[string]*models.ReportCardGeneration),
		cards:       make(map[string][]models.ReportCard),
	}
}

func (m *mockReportCardStore) CreateGeneration(ctx context.Context, gen *models.ReportCardGeneration, cards []models.ReportCard) error {
	m.sequence++
	gen.ID = fmt.Sprintf("gen-%d", m.sequence)
	copied := *gen
	m.generations[gen.ID] = &copied
	stored := make([]models.ReportCard, len(cards))
	for i, card := range cards {
		card.GenerationID = gen.ID
		card.ID = fmt.Sprintf("card-%d-%d", m.sequence, i)
		stored[i] = card
	}
	m.cards[gen.ID] = stored
	return nil
}

func (m *mockReportCardStore) FindGeneration(ctx context.Context, id string) (*models.ReportCardGeneration, error) {
	gen, ok := m.generations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return gen, nil
}

func (m *mockReportCardStore) ListGenerations(ctx context.Context, examID, classID string) ([]models.ReportCardGeneration, error) {
	var out []models.ReportCardGeneration
	for _, gen := range m.generations {
		if gen.ExamID != examID {
			continue
		}
		if classID != "" && gen.ClassID != classID {
			continue
		}
		out = append(out, *gen)
	}
	return out, nil
}

func (m *mockReportCardStore) ListCards(ctx context.Context, generationID string) ([]models.ReportCard, error) {
	return m.cards[generationID], nil
}

func (m *mockReportCardStore) FindCardForStudent(ctx context.Context, generationID, studentID string) (*models.ReportCard, error) {
	for _, card := range m.cards[generationID] {
		if card.StudentID == studentID {
			copied := card
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockReportCardStore) FindCard(ctx context.Context, cardID string) (*models.ReportCard, error) {
	for genID, cards := range m.cards {
		for i := range cards {
			if cards[i].ID == cardID {
				copied := cards[i]
				if m.raceTo != "" {
					m.cards[genID][i].Status = m.raceTo
				}
				return &copied, nil
			}
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockReportCardStore) UpdateCardStatus(ctx context.Context, cardID string, from, to models.ReportCardStatus) error {
	for genID, cards := range m.cards {
		for i := range cards {
			if cards[i].ID == cardID {
				if cards[i].Status != from {
					return sql.ErrNoRows
				}
				m.cards[genID][i].Status = to
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

type mockCardResultReader struct {
	results *mockResultStore
}

func (m *mockCardResultReader) FetchByStudents(ctx context.Context, examID string, studentIDs []string) (map[string][]models.ExamResult, error) {
	wanted := make(map[string]bool, len(studentIDs))
	for _, id := range studentIDs {
		wanted[id] = true
	}
	out := make(map[string][]models.ExamResult)
	for _, row := range m.results.rows {
		if row.ExamID == examID && wanted[row.StudentID] {
			out[row.StudentID] = append(out[row.StudentID], row)
		}
	}
	return out, nil
}

func cardFixture(t *testing.T) (*ReportCardService, *mockReportCardStore, *mockResultStore, *mockExamStore) {
	t.Helper()
	store := newMockExamStore()
	seedExam(store, "exam-1", models.ExamStatusPublished)

	roster := newMockRoster()
	roster.students["class-7a"] = []models.Student{
		{ID: "st-a", Name: "Amara", Surname: "Perera", ClassID: "class-7a", GradeID: "grade-7"},
		{ID: "st-b", Name: "Bimal", Surname: "Silva", ClassID: "class-7a", GradeID: "grade-7"},
		{ID: "st-c", Name: "Chamodi", Surname: "Fernando", ClassID: "class-7a", GradeID: "grade-7"},
	}

	results := newMockResultStore()
	exams := &mockSummaryExamReader{
		store: store,
		subjects: []models.ExamSubject{
			{ID: "es-math", ExamID: "exam-1", SubjectID: "sub-math", SubjectName: "Mathematics", MaxMarks: 100},
			{ID: "es-sci", ExamID: "exam-1", SubjectID: "sub-sci", SubjectName: "Science", MaxMarks: 50},
		},
	}

	cards := newMockReportCardStore()
	svc := NewReportCardService(cards, exams, roster, &mockCardResultReader{results: results}, &mockAuditor{}, nil, nil, grading.NewScale(""), nil, nil)
	return svc, cards, results, store
}

func TestReportCardGenerate(t *testing.T) {
	svc, cards, results, _ := cardFixture(t)

	// Two subjects, three students. Chamodi tops the class, Amara second,
	// Bimal third.
	putResult(results, "es-math", "st-a", marksOf(70), false)
	putResult(results, "es-sci", "st-a", marksOf(35), false)
	putResult(results, "es-math", "st-b", marksOf(55), false)
	putResult(results, "es-sci", "st-b", marksOf(30), false)
	putResult(results, "es-math", "st-c", marksOf(95), false)
	putResult(results, "es-sci", "st-c", marksOf(48), false)

	gen, err := svc.Generate(context.Background(), GenerateCardsRequest{ExamID: "exam-1", ClassID: "class-7a", InitiatorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, "2026 Term 1 First Term Test - 7A", gen.Label)
	assert.Equal(t, 3, gen.TotalStudents)

	stored := cards.cards[gen.ID]
	require.Len(t, stored, 3)
	byStudent := make(map[string]models.ReportCard)
	for _, card := range stored {
		byStudent[card.StudentID] = card
	}

	chamodi := byStudent["st-c"]
	assert.Equal(t, 1, chamodi.ClassRank)
	assert.Equal(t, 3, chamodi.ClassSize)
	assert.Equal(t, "Chamodi Fernando", chamodi.StudentName)
	assert.Equal(t, 143.0, chamodi.TotalMarks)
	assert.Equal(t, 150.0, chamodi.TotalMaxMarks)
	assert.Equal(t, 95.5, chamodi.Average)
	assert.Equal(t, "A", chamodi.OverallGrade)
	require.Len(t, chamodi.Subjects, 2)

	assert.Equal(t, 2, byStudent["st-a"].ClassRank)
	assert.Equal(t, "B", byStudent["st-a"].OverallGrade)
	assert.Equal(t, 3, byStudent["st-b"].ClassRank)
	assert.Equal(t, "C", byStudent["st-b"].OverallGrade)
}

func TestReportCardGenerateSkipsStudentsWithoutResults(t *testing.T) {
	svc, cards, results, _ := cardFixture(t)

	putResult(results, "es-math", "st-a", marksOf(70), false)

	gen, err := svc.Generate(context.Background(), GenerateCardsRequest{ExamID: "exam-1", ClassID: "class-7a", InitiatorID: "admin-1"})
	require.NoError(t, err)
	require.Len(t, cards.cards[gen.ID], 1)
	assert.Equal(t, 1, cards.cards[gen.ID][0].ClassSize)
	assert.Equal(t, 1, gen.TotalStudents)
}

func TestReportCardGenerateTwiceCreatesTwoGenerations(t *testing.T) {
	svc, cards, results, _ := cardFixture(t)

	putResult(results, "es-math", "st-a", marksOf(70), false)
	putResult(results, "es-math", "st-b", marksOf(55), false)

	first, err := svc.Generate(context.Background(), GenerateCardsRequest{ExamID: "exam-1", ClassID: "class-7a", InitiatorID: "admin-1"})
	require.NoError(t, err)
	second, err := svc.Generate(context.Background(), GenerateCardsRequest{ExamID: "exam-1", ClassID: "class-7a", InitiatorID: "admin-1"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// Same ledger, identical snapshots; the first generation is untouched.
	firstCards := cards.cards[first.ID]
	secondCards := cards.cards[second.ID]
	require.Len(t, firstCards, 2)
	require.Len(t, secondCards, 2)
	for i := range firstCards {
		assert.Equal(t, firstCards[i].StudentID, secondCards[i].StudentID)
		assert.Equal(t, firstCards[i].TotalMarks, secondCards[i].TotalMarks)
		assert.Equal(t, firstCards[i].Average, secondCards[i].Average)
		assert.Equal(t, firstCards[i].ClassRank, secondCards[i].ClassRank)
	}
}

func TestReportCardGenerateRequiresPublishableExam(t *testing.T) {
	svc, _, results, store := cardFixture(t)
	putResult(results, "es-math", "st-a", marksOf(70), false)
	store.exams["exam-1"].Status = models.ExamStatusMarksEntry

	_, err := svc.Generate(context.Background(), GenerateCardsRequest{ExamID: "exam-1", ClassID: "class-7a", InitiatorID: "admin-1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestReportCardGenerateNoResults(t *testing.T) {
	svc, _, _, _ := cardFixture(t)

	_, err := svc.Generate(context.Background(), GenerateCardsRequest{ExamID: "exam-1", ClassID: "class-7a", InitiatorID: "admin-1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrNoResults))
}

func TestReportCardGenerateForeignClass(t *testing.T) {
	svc, _, results, _ := cardFixture(t)
	putResult(results, "es-math", "st-a", marksOf(70), false)

	_, err := svc.Generate(context.Background(), GenerateCardsRequest{ExamID: "exam-1", ClassID: "class-8b", InitiatorID: "admin-1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestReportCardStudentAccess(t *testing.T) {
	svc, cards, results, _ := cardFixture(t)
	putResult(results, "es-math", "st-a", marksOf(70), false)
	putResult(results, "es-math", "st-b", marksOf(55), false)

	gen, err := svc.Generate(context.Background(), GenerateCardsRequest{ExamID: "exam-1", ClassID: "class-7a", InitiatorID: "admin-1"})
	require.NoError(t, err)
	_ = cards

	card, err := svc.StudentCard(context.Background(), gen.ID, "st-a", "st-a", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, "st-a", card.StudentID)

	_, err = svc.StudentCard(context.Background(), gen.ID, "st-b", "st-a", models.RoleStudent)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.StudentCard(context.Background(), gen.ID, "st-b", "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
}

func TestReportCardUpdateStatus(t *testing.T) {
	svc, cards, results, _ := cardFixture(t)
	putResult(results, "es-math", "st-a", marksOf(70), false)

	gen, err := svc.Generate(context.Background(), GenerateCardsRequest{ExamID: "exam-1", ClassID: "class-7a", InitiatorID: "admin-1"})
	require.NoError(t, err)
	cardID := cards.cards[gen.ID][0].ID

	// APPROVED straight from DRAFT skips the publish step.
	err = svc.UpdateCardStatus(context.Background(), cardID, models.ReportCardStatusApproved)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	require.NoError(t, svc.UpdateCardStatus(context.Background(), cardID, models.ReportCardStatusPublished))
	assert.Equal(t, models.ReportCardStatusPublished, cards.cards[gen.ID][0].Status)

	// Repeating the current status is a no-op.
	require.NoError(t, svc.UpdateCardStatus(context.Background(), cardID, models.ReportCardStatusPublished))

	// A published card never goes back to draft.
	err = svc.UpdateCardStatus(context.Background(), cardID, models.ReportCardStatusDraft)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	require.NoError(t, svc.UpdateCardStatus(context.Background(), cardID, models.ReportCardStatusApproved))
	assert.Equal(t, models.ReportCardStatusApproved, cards.cards[gen.ID][0].Status)

	err = svc.UpdateCardStatus(context.Background(), cardID, models.ReportCardStatus("BOGUS"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	err = svc.UpdateCardStatus(context.Background(), "missing", models.ReportCardStatusPublished)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestReportCardUpdateStatusConcurrentMove(t *testing.T) {
	svc, cards, results, _ := cardFixture(t)
	putResult(results, "es-math", "st-a", marksOf(70), false)

	gen, err := svc.Generate(context.Background(), GenerateCardsRequest{ExamID: "exam-1", ClassID: "class-7a", InitiatorID: "admin-1"})
	require.NoError(t, err)
	cardID := cards.cards[gen.ID][0].ID

	// Another writer publishes the card between our read and our update.
	cards.raceTo = models.ReportCardStatusPublished
	err = svc.UpdateCardStatus(context.Background(), cardID, models.ReportCardStatusPublished)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}
