package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/exam-core-api/internal/models"
)

// ReportCardRepository persists report card generations and their snapshots.
type ReportCardRepository struct {
	db *sqlx.DB
}

// NewReportCardRepository creates a new report card repository.
func NewReportCardRepository(db *sqlx.DB) *ReportCardRepository {
	return &ReportCardRepository{db: db}
}

// CreateGeneration stores a generation header with all its cards and subject
// lines in one transaction. Generations are append-only; nothing here updates
// earlier runs.
func (r *ReportCardRepository) CreateGeneration(ctx context.Context, gen *models.ReportCardGeneration, cards []models.ReportCard) error {
	if gen.ID == "" {
		gen.ID = uuid.NewString()
	}
	if gen.GeneratedAt.IsZero() {
		gen.GeneratedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	const genQuery = `INSERT INTO report_card_generations (id, exam_id, class_id, initiator_id, label, exam_title, class_name, total_students, average_percentage, generated_at)
        VALUES (:id, :exam_id, :class_id, :initiator_id, :label, :exam_title, :class_name, :total_students, :average_percentage, :generated_at)`
	if _, err := tx.NamedExecContext(ctx, genQuery, gen); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert report card generation: %w", err)
	}

	const cardQuery = `INSERT INTO report_cards (id, generation_id, exam_id, class_id, student_id, student_name, total_marks, total_max_marks, percentage, average, overall_grade, class_rank, class_size, status, generated_at)
        VALUES (:id, :generation_id, :exam_id, :class_id, :student_id, :student_name, :total_marks, :total_max_marks, :percentage, :average, :overall_grade, :class_rank, :class_size, :status, :generated_at)`
	const subjectQuery = `INSERT INTO report_card_subjects (id, report_card_id, subject_id, subject_name, marks, max_marks, percentage, letter_grade, is_absent)
        VALUES (:id, :report_card_id, :subject_id, :subject_name, :marks, :max_marks, :percentage, :letter_grade, :is_absent)`
	for i := range cards {
		if cards[i].ID == "" {
			cards[i].ID = uuid.NewString()
		}
		cards[i].GenerationID = gen.ID
		cards[i].GeneratedAt = gen.GeneratedAt
		if _, err := tx.NamedExecContext(ctx, cardQuery, cards[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert report card: %w", err)
		}
		for j := range cards[i].Subjects {
			if cards[i].Subjects[j].ID == "" {
				cards[i].Subjects[j].ID = uuid.NewString()
			}
			cards[i].Subjects[j].ReportCardID = cards[i].ID
			if _, err := tx.NamedExecContext(ctx, subjectQuery, cards[i].Subjects[j]); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("insert report card subject: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report card generation: %w", err)
	}
	return nil
}

// FindGeneration returns a generation header by identifier.
func (r *ReportCardRepository) FindGeneration(ctx context.Context, id string) (*models.ReportCardGeneration, error) {
	const query = `SELECT id, exam_id, class_id, initiator_id, label, exam_title, class_name, total_students, average_percentage, generated_at FROM report_card_generations WHERE id = $1 LIMIT 1`
	var gen models.ReportCardGeneration
	if err := r.db.GetContext(ctx, &gen, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find report card generation: %w", err)
	}
	return &gen, nil
}

// ListGenerations returns generation headers, newest first, optionally
// narrowed by exam and class.
func (r *ReportCardRepository) ListGenerations(ctx context.Context, examID, classID string) ([]models.ReportCardGeneration, error) {
	query := `SELECT id, exam_id, class_id, initiator_id, label, exam_title, class_name, total_students, average_percentage, generated_at FROM report_card_generations WHERE 1=1`
	var args []interface{}
	if examID != "" {
		query += fmt.Sprintf(" AND exam_id = $%d", len(args)+1)
		args = append(args, examID)
	}
	if classID != "" {
		query += fmt.Sprintf(" AND class_id = $%d", len(args)+1)
		args = append(args, classID)
	}
	query += " ORDER BY generated_at DESC"

	var gens []models.ReportCardGeneration
	if err := r.db.SelectContext(ctx, &gens, query, args...); err != nil {
		return nil, fmt.Errorf("list report card generations: %w", err)
	}
	return gens, nil
}

// ListCards returns the cards of a generation with their subject lines.
func (r *ReportCardRepository) ListCards(ctx context.Context, generationID string) ([]models.ReportCard, error) {
	const query = `SELECT id, generation_id, exam_id, class_id, student_id, student_name, total_marks, total_max_marks, percentage, average, overall_grade, class_rank, class_size, status, generated_at FROM report_cards WHERE generation_id = $1 ORDER BY class_rank ASC, student_name ASC`
	var cards []models.ReportCard
	if err := r.db.SelectContext(ctx, &cards, query, generationID); err != nil {
		return nil, fmt.Errorf("list report cards: %w", err)
	}
	if err := r.attachSubjects(ctx, cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// FindCardForStudent returns one student's card within a generation.
func (r *ReportCardRepository) FindCardForStudent(ctx context.Context, generationID, studentID string) (*models.ReportCard, error) {
	const query = `SELECT id, generation_id, exam_id, class_id, student_id, student_name, total_marks, total_max_marks, percentage, average, overall_grade, class_rank, class_size, status, generated_at FROM report_cards WHERE generation_id = $1 AND student_id = $2 LIMIT 1`
	var card models.ReportCard
	if err := r.db.GetContext(ctx, &card, query, generationID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find report card: %w", err)
	}
	cards := []models.ReportCard{card}
	if err := r.attachSubjects(ctx, cards); err != nil {
		return nil, err
	}
	return &cards[0], nil
}

// FindCard returns a single card by id, without its subject line items.
func (r *ReportCardRepository) FindCard(ctx context.Context, cardID string) (*models.ReportCard, error) {
	const query = `SELECT id, generation_id, exam_id, class_id, student_id, student_name, total_marks, total_max_marks, percentage, average, overall_grade, class_rank, class_size, status, generated_at FROM report_cards WHERE id = $1`
	var card models.ReportCard
	if err := r.db.GetContext(ctx, &card, query, cardID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find report card: %w", err)
	}
	return &card, nil
}

// UpdateCardStatus moves a card through its review workflow. The current
// status is part of the WHERE clause so a concurrent move surfaces as
// sql.ErrNoRows instead of silently overwriting.
func (r *ReportCardRepository) UpdateCardStatus(ctx context.Context, cardID string, from, to models.ReportCardStatus) error {
	const query = `UPDATE report_cards SET status = $3 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, cardID, from, to)
	if err != nil {
		return fmt.Errorf("update report card status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update report card status rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *ReportCardRepository) attachSubjects(ctx context.Context, cards []models.ReportCard) error {
	if len(cards) == 0 {
		return nil
	}
	placeholders := make([]string, len(cards))
	args := make([]interface{}, len(cards))
	index := make(map[string]int, len(cards))
	for i := range cards {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = cards[i].ID
		index[cards[i].ID] = i
	}
	query := fmt.Sprintf(`SELECT id, report_card_id, subject_id, subject_name, marks, max_marks, percentage, letter_grade, is_absent
        FROM report_card_subjects WHERE report_card_id IN (%s) ORDER BY subject_name ASC`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("fetch report card subjects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var subject models.ReportCardSubject
		if err := rows.StructScan(&subject); err != nil {
			return fmt.Errorf("scan report card subject: %w", err)
		}
		if i, ok := index[subject.ReportCardID]; ok {
			cards[i].Subjects = append(cards[i].Subjects, subject)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate report card subjects: %w", err)
	}
	return nil
}
