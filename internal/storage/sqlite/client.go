package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/prep-agent/backend/internal/storage/models"
	"github.com/prep-agent/backend/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interviews (
		id TEXT PRIMARY KEY,
		company TEXT,
		role TEXT,
		interviewer TEXT,
		scheduled_at INTEGER,
		status TEXT NOT NULL DEFAULT 'new',
		similarity_key TEXT NOT NULL,
		research_payload TEXT,
		quality_score REAL NOT NULL DEFAULT 0,
		confidence_score REAL NOT NULL DEFAULT 0,
		possible_duplicate_of TEXT,
		needs_review INTEGER NOT NULL DEFAULT 0,
		source_context TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interviews_similarity_key ON interviews(similarity_key);
	CREATE INDEX IF NOT EXISTS idx_interviews_status ON interviews(status);
	CREATE INDEX IF NOT EXISTS idx_interviews_created ON interviews(created_at);

	CREATE TABLE IF NOT EXISTS interview_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		interview_id TEXT NOT NULL,
		field_name TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		changed_at INTEGER NOT NULL,
		FOREIGN KEY (interview_id) REFERENCES interviews(id)
	);
	CREATE INDEX IF NOT EXISTS idx_history_interview ON interview_history(interview_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

const interviewColumns = `id, company, role, interviewer, scheduled_at, status, similarity_key,
	research_payload, quality_score, confidence_score, possible_duplicate_of, needs_review,
	source_context, created_at, updated_at`

func (c *Client) InsertInterview(rec *models.InterviewRecord) error {
	query := `
		INSERT INTO interviews (` + interviewColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var scheduledAt interface{}
	if rec.ScheduledAt != nil {
		scheduledAt = rec.ScheduledAt.Unix()
	}

	var payload interface{}
	if len(rec.ResearchPayload) > 0 {
		payload = string(rec.ResearchPayload)
	}

	_, err := c.db.Exec(
		query,
		rec.ID,
		nullable(rec.Company),
		nullable(rec.Role),
		nullable(rec.Interviewer),
		scheduledAt,
		string(rec.Status),
		rec.SimilarityKey,
		payload,
		rec.QualityScore,
		rec.ConfidenceScore,
		nullable(rec.PossibleDuplicateOf),
		boolToInt(rec.NeedsReview),
		nullable(rec.SourceContext),
		rec.CreatedAt.Unix(),
		rec.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert interview: %w", err)
	}

	logger.Debug("Interview inserted",
		zap.String("interview_id", rec.ID),
		zap.String("similarity_key", rec.SimilarityKey),
	)
	return nil
}

func (c *Client) GetInterview(id string) (*models.InterviewRecord, error) {
	query := `SELECT ` + interviewColumns + ` FROM interviews WHERE id = ?`

	rec, err := scanInterview(c.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interview: %w", err)
	}

	return rec, nil
}

func (c *Client) FindBySimilarityKey(key string) ([]*models.InterviewRecord, error) {
	query := `SELECT ` + interviewColumns + ` FROM interviews WHERE similarity_key = ? ORDER BY created_at DESC`
	return c.queryInterviews(query, key)
}

// FindByKeyPrefix returns candidates whose similarity key starts with
// the given prefix (normalized company). Used as the wide net when no
// exact key match exists.
func (c *Client) FindByKeyPrefix(prefix string) ([]*models.InterviewRecord, error) {
	query := `SELECT ` + interviewColumns + ` FROM interviews WHERE similarity_key LIKE ? ORDER BY created_at DESC LIMIT 100`
	return c.queryInterviews(query, prefix+"%")
}

func (c *Client) ListByStatuses(statuses []models.InterviewStatus, limit int) ([]*models.InterviewRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]interface{}, 0, len(statuses)+1)
	for i, s := range statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, string(s))
	}
	args = append(args, limit)

	query := `SELECT ` + interviewColumns + ` FROM interviews
		WHERE status IN (` + placeholders + `)
		ORDER BY created_at ASC
		LIMIT ?`

	return c.queryInterviews(query, args...)
}

func (c *Client) UpdateStatus(id string, oldStatus, newStatus models.InterviewStatus) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE interviews SET status = ?, updated_at = ? WHERE id = ?`,
		string(newStatus), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	err = recordChange(tx, id, "status", string(oldStatus), string(newStatus))
	if err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateResearch persists the research payload and scores along with
// the resulting status in a single write.
func (c *Client) UpdateResearch(id string, payload []byte, quality, confidence float64, status models.InterviewStatus) error {
	_, err := c.db.Exec(`
		UPDATE interviews
		SET research_payload = ?, quality_score = ?, confidence_score = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, string(payload), quality, confidence, string(status), time.Now().Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to update research: %w", err)
	}

	return nil
}

func (c *Client) SetNeedsReview(id string) error {
	_, err := c.db.Exec(
		`UPDATE interviews SET needs_review = 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to flag interview for review: %w", err)
	}
	return nil
}

// FillMissingFields updates only the extracted fields that are empty on
// the stored row. Duplicate inserts enrich the existing record, they
// never overwrite populated values.
func (c *Client) FillMissingFields(id string, fields models.ExtractedEntities) error {
	var scheduledAt interface{}
	if fields.ScheduledAt != nil {
		scheduledAt = fields.ScheduledAt.Unix()
	}

	_, err := c.db.Exec(`
		UPDATE interviews
		SET company = COALESCE(company, ?),
			role = COALESCE(role, ?),
			interviewer = COALESCE(interviewer, ?),
			scheduled_at = COALESCE(scheduled_at, ?),
			updated_at = ?
		WHERE id = ?
	`,
		nullable(fields.Company),
		nullable(fields.Role),
		nullable(fields.Interviewer),
		scheduledAt,
		time.Now().Unix(),
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to fill fields: %w", err)
	}
	return nil
}

func (c *Client) StatusCounts() (map[models.InterviewStatus]int, error) {
	rows, err := c.db.Query(`SELECT status, COUNT(*) FROM interviews GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.InterviewStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[models.InterviewStatus(status)] = count
	}

	return counts, rows.Err()
}

func (c *Client) ListChanges(interviewID string) ([]models.ChangeRecord, error) {
	rows, err := c.db.Query(`
		SELECT id, interview_id, field_name, old_value, new_value, changed_at
		FROM interview_history
		WHERE interview_id = ?
		ORDER BY changed_at ASC
	`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	var changes []models.ChangeRecord
	for rows.Next() {
		var ch models.ChangeRecord
		var oldVal, newVal sql.NullString
		var changedAt int64

		if err := rows.Scan(&ch.ID, &ch.InterviewID, &ch.FieldName, &oldVal, &newVal, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		ch.OldValue = oldVal.String
		ch.NewValue = newVal.String
		ch.ChangedAt = time.Unix(changedAt, 0)
		changes = append(changes, ch)
	}

	return changes, rows.Err()
}

func recordChange(tx *sql.Tx, interviewID, field, oldValue, newValue string) error {
	_, err := tx.Exec(`
		INSERT INTO interview_history (interview_id, field_name, old_value, new_value, changed_at)
		VALUES (?, ?, ?, ?, ?)
	`, interviewID, field, oldValue, newValue, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}
	return nil
}

func (c *Client) queryInterviews(query string, args ...interface{}) ([]*models.InterviewRecord, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interviews: %w", err)
	}
	defer rows.Close()

	var records []*models.InterviewRecord
	for rows.Next() {
		rec, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInterview(s scanner) (*models.InterviewRecord, error) {
	var rec models.InterviewRecord
	var company, role, interviewer, payload, dupOf, sourceCtx sql.NullString
	var scheduledAt sql.NullInt64
	var needsReview int
	var status string
	var createdAt, updatedAt int64

	err := s.Scan(
		&rec.ID,
		&company,
		&role,
		&interviewer,
		&scheduledAt,
		&status,
		&rec.SimilarityKey,
		&payload,
		&rec.QualityScore,
		&rec.ConfidenceScore,
		&dupOf,
		&needsReview,
		&sourceCtx,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Company = company.String
	rec.Role = role.String
	rec.Interviewer = interviewer.String
	rec.Status = models.InterviewStatus(status)
	if payload.Valid {
		rec.ResearchPayload = []byte(payload.String)
	}
	rec.PossibleDuplicateOf = dupOf.String
	rec.NeedsReview = needsReview != 0
	rec.SourceContext = sourceCtx.String
	if scheduledAt.Valid {
		t := time.Unix(scheduledAt.Int64, 0)
		rec.ScheduledAt = &t
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	return &rec, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
