package models

import "time"

// ExamStatus is the lifecycle state of an exam.
type ExamStatus string

const (
	ExamStatusDraft          ExamStatus = "DRAFT"
	ExamStatusMarksEntry     ExamStatus = "MARKS_ENTRY"
	ExamStatusClassReview    ExamStatus = "CLASS_REVIEW"
	ExamStatusReadyToPublish ExamStatus = "READY_TO_PUBLISH"
	ExamStatusPublished      ExamStatus = "PUBLISHED"
)

// ExamType classifies the assessment event.
type ExamType string

const (
	ExamTypeTerm    ExamType = "TERM"
	ExamTypeMidTerm ExamType = "MID_TERM"
)

// Exam represents one assessment event scoped to a grade, optionally one class.
type Exam struct {
	ID                 string     `db:"id" json:"id"`
	Title              string     `db:"title" json:"title"`
	GradeID            string     `db:"grade_id" json:"grade_id"`
	ClassID            *string    `db:"class_id" json:"class_id,omitempty"`
	Term               int        `db:"term" json:"term"`
	Year               int        `db:"year" json:"year"`
	ExamType           ExamType   `db:"exam_type" json:"exam_type"`
	Status             ExamStatus `db:"status" json:"status"`
	PartialReview      bool       `db:"partial_review" json:"partial_review"`
	MarksEntryDeadline *time.Time `db:"marks_entry_deadline" json:"marks_entry_deadline,omitempty"`
	ReviewDeadline     *time.Time `db:"review_deadline" json:"review_deadline,omitempty"`
	PublishedAt        *time.Time `db:"published_at" json:"published_at,omitempty"`
	Retired            bool       `db:"retired" json:"retired"`
	CreatedBy          string     `db:"created_by" json:"created_by"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// ExamSubject is one subject's assessment slot within an exam.
type ExamSubject struct {
	ID             string     `db:"id" json:"id"`
	ExamID         string     `db:"exam_id" json:"exam_id"`
	SubjectID      string     `db:"subject_id" json:"subject_id"`
	SubjectName    string     `db:"subject_name" json:"subject_name"`
	TeacherID      *string    `db:"teacher_id" json:"teacher_id,omitempty"`
	MaxMarks       float64    `db:"max_marks" json:"max_marks"`
	MarksEntered   bool       `db:"marks_entered" json:"marks_entered"`
	MarksEnteredAt *time.Time `db:"marks_entered_at" json:"marks_entered_at,omitempty"`
	MarksEnteredBy *string    `db:"marks_entered_by" json:"marks_entered_by,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// ExamResult is one student's mark, or recorded absence, for one exam subject.
// Unique per (exam_id, exam_subject_id, student_id); written only via the
// marks ledger upsert.
type ExamResult struct {
	ID            string    `db:"id" json:"id"`
	ExamID        string    `db:"exam_id" json:"exam_id"`
	ExamSubjectID string    `db:"exam_subject_id" json:"exam_subject_id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	Marks         *float64  `db:"marks" json:"marks,omitempty"`
	IsAbsent      bool      `db:"is_absent" json:"is_absent"`
	EnteredBy     string    `db:"entered_by" json:"entered_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ExamSummary is the derived per-student aggregate for an exam. It is a
// materialized view over ExamResult and can be rebuilt at any time.
type ExamSummary struct {
	ID           string    `db:"id" json:"id"`
	ExamID       string    `db:"exam_id" json:"exam_id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	TotalMarks   float64   `db:"total_marks" json:"total_marks"`
	Average      float64   `db:"average" json:"average"`
	OverallGrade string    `db:"overall_grade" json:"overall_grade"`
	ClassRank    int       `db:"class_rank" json:"class_rank"`
	GradeRank    int       `db:"grade_rank" json:"grade_rank"`
	ResultCount  int       `db:"result_count" json:"result_count"`
	ComputedAt   time.Time `db:"computed_at" json:"computed_at"`
}

// ExamTransition is the audit record for one exam status change.
type ExamTransition struct {
	ID         string     `db:"id" json:"id"`
	ExamID     string     `db:"exam_id" json:"exam_id"`
	FromStatus ExamStatus `db:"from_status" json:"from_status"`
	ToStatus   ExamStatus `db:"to_status" json:"to_status"`
	ActorID    string     `db:"actor_id" json:"actor_id"`
	Note       string     `db:"note" json:"note"`
	OccurredAt time.Time  `db:"occurred_at" json:"occurred_at"`
}

// ExamFilter narrows exam list queries.
type ExamFilter struct {
	GradeID  string
	ClassID  string
	Term     int
	Year     int
	Status   ExamStatus
	Retired  *bool
	Page     int
	PageSize int
}

// ResultFilter narrows exam result queries.
type ResultFilter struct {
	ExamSubjectID string
	StudentID     string
}
