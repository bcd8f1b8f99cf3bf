package models

import "time"

// ReportCardStatus tracks the post-generation review state of a report card.
type ReportCardStatus string

const (
	ReportCardStatusDraft     ReportCardStatus = "DRAFT"
	ReportCardStatusPublished ReportCardStatus = "PUBLISHED"
	ReportCardStatusApproved  ReportCardStatus = "APPROVED"
)

// ReportCardGeneration is the immutable batch header for one generator run.
// Re-running generation for the same exam and class creates a new row; prior
// generations are never mutated or deleted.
type ReportCardGeneration struct {
	ID                string    `db:"id" json:"id"`
	ExamID            string    `db:"exam_id" json:"exam_id"`
	ClassID           string    `db:"class_id" json:"class_id"`
	InitiatorID       string    `db:"initiator_id" json:"initiator_id"`
	Label             string    `db:"label" json:"label"`
	ExamTitle         string    `db:"exam_title" json:"exam_title"`
	ClassName         string    `db:"class_name" json:"class_name"`
	TotalStudents     int       `db:"total_students" json:"total_students"`
	AveragePercentage float64   `db:"average_percentage" json:"average_percentage"`
	GeneratedAt       time.Time `db:"generated_at" json:"generated_at"`
}

// ReportCard is one student's point-in-time snapshot within a generation.
type ReportCard struct {
	ID            string              `db:"id" json:"id"`
	GenerationID  string              `db:"generation_id" json:"generation_id"`
	ExamID        string              `db:"exam_id" json:"exam_id"`
	ClassID       string              `db:"class_id" json:"class_id"`
	StudentID     string              `db:"student_id" json:"student_id"`
	StudentName   string              `db:"student_name" json:"student_name"`
	TotalMarks    float64             `db:"total_marks" json:"total_marks"`
	TotalMaxMarks float64             `db:"total_max_marks" json:"total_max_marks"`
	Percentage    float64             `db:"percentage" json:"percentage"`
	Average       float64             `db:"average" json:"average"`
	OverallGrade  string              `db:"overall_grade" json:"overall_grade"`
	ClassRank     int                 `db:"class_rank" json:"class_rank"`
	ClassSize     int                 `db:"class_size" json:"class_size"`
	Status        ReportCardStatus    `db:"status" json:"status"`
	GeneratedAt   time.Time           `db:"generated_at" json:"generated_at"`
	Subjects      []ReportCardSubject `json:"subjects,omitempty"`
}

// ReportCardSubject is one subject line item on a report card snapshot.
type ReportCardSubject struct {
	ID           string   `db:"id" json:"id"`
	ReportCardID string   `db:"report_card_id" json:"report_card_id"`
	SubjectID    string   `db:"subject_id" json:"subject_id"`
	SubjectName  string   `db:"subject_name" json:"subject_name"`
	Marks        *float64 `db:"marks" json:"marks,omitempty"`
	MaxMarks     float64  `db:"max_marks" json:"max_marks"`
	Percentage   float64  `db:"percentage" json:"percentage"`
	LetterGrade  string   `db:"letter_grade" json:"letter_grade"`
	IsAbsent     bool     `db:"is_absent" json:"is_absent"`
}

// ExportFormat enumerates supported report-card export encodings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportStatus tracks the lifecycle of an export job.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJob is a queued request to render a generation to CSV or PDF.
type ExportJob struct {
	ID           string       `db:"id" json:"id"`
	GenerationID string       `db:"generation_id" json:"generation_id"`
	Format       ExportFormat `db:"format" json:"format"`
	Status       ExportStatus `db:"status" json:"status"`
	Progress     int          `db:"progress" json:"progress"`
	ResultURL    *string      `db:"result_url" json:"result_url,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
	CreatedBy    string       `db:"created_by" json:"created_by"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
}
