package models

// Grade represents a year group (e.g. level 7) that exams are scoped to.
type Grade struct {
	ID    string `db:"id" json:"id"`
	Level int    `db:"level" json:"level"`
}

// Class represents one class group within a grade.
type Class struct {
	ID      string `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	GradeID string `db:"grade_id" json:"grade_id"`
}

// Student represents an enrolled student.
type Student struct {
	ID      string `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Surname string `db:"surname" json:"surname"`
	ClassID string `db:"class_id" json:"class_id"`
	GradeID string `db:"grade_id" json:"grade_id"`
}

// FullName joins the student's name parts for display.
func (s Student) FullName() string {
	if s.Surname == "" {
		return s.Name
	}
	return s.Name + " " + s.Surname
}

// Subject represents a taught subject.
type Subject struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
