package export

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVExporterRenderCardTable(t *testing.T) {
	exporter := NewCSVExporter()

	payload, err := exporter.RenderCardTable([]CardRow{
		{Rank: 1, Student: "Amara Perera", TotalMarks: 182.5, MaxMarks: 200, Percentage: 91.25, Average: 91.25, Grade: "A"},
		{Rank: 2, Student: "Bimal Silva", TotalMarks: 120, MaxMarks: 200, Percentage: 60, Average: 60, Grade: "C"},
	})
	require.NoError(t, err)

	want := "Rank,Student,Total Marks,Max Marks,Percentage,Average,Grade\n" +
		"1,Amara Perera,182.50,200.00,91.25,91.25,A\n" +
		"2,Bimal Silva,120.00,200.00,60.00,60.00,C\n"
	require.Equal(t, want, string(payload))
}

func TestCSVExporterRejectsEmptyTable(t *testing.T) {
	exporter := NewCSVExporter()

	_, err := exporter.RenderCardTable(nil)
	require.Error(t, err)
}
