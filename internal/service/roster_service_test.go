package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-core-api/internal/models"
	appErrors "github.com/noah-isme/exam-core-api/pkg/errors"
)

func TestRosterServiceClasses(t *testing.T) {
	roster := newMockRoster()
	roster.students["class-7a"] = []models.Student{
		{ID: "st-1", Name: "Amara", ClassID: "class-7a", GradeID: "grade-7"},
		{ID: "st-2", Name: "Bimal", ClassID: "class-7a", GradeID: "grade-7"},
	}
	svc := NewRosterService(roster, nil)

	classes, err := svc.Classes(context.Background(), "grade-7")
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, "class-7a", classes[0].ID)
	assert.Equal(t, 2, classes[0].StudentCount)

	_, err = svc.Classes(context.Background(), "grade-99")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestRosterServiceStudents(t *testing.T) {
	roster := newMockRoster()
	roster.students["class-7a"] = []models.Student{{ID: "st-1", Name: "Amara", ClassID: "class-7a"}}
	svc := NewRosterService(roster, nil)

	students, err := svc.Students(context.Background(), "class-7a")
	require.NoError(t, err)
	assert.Len(t, students, 1)

	_, err = svc.Students(context.Background(), "class-missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestRosterServiceSubjects(t *testing.T) {
	svc := NewRosterService(newMockRoster(), nil)
	subjects, err := svc.Subjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, subjects, 2)
}
