package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prep-agent/backend/internal/storage/models"
	"github.com/prep-agent/backend/internal/storage/sqlite"
	"github.com/prep-agent/backend/pkg/logger"
)

var (
	// ErrInvalidTransition marks a lifecycle move that the state
	// machine forbids. It is a contract violation and is surfaced to
	// the caller, never silently corrected.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSessionActive means another research session already holds the
	// advisory lock for the record.
	ErrSessionActive = errors.New("research session already active for record")

	ErrNotFound = sqlite.ErrNotFound
)

// Legal lifecycle moves. Status only moves forward, with two
// exceptions: the preparing self-loop for a failed reflection round,
// and archival from any non-completed state.
var transitions = map[models.InterviewStatus]map[models.InterviewStatus]bool{
	models.StatusNew: {
		models.StatusPreparing: true,
		models.StatusArchived:  true,
	},
	models.StatusPreparing: {
		models.StatusPreparing: true,
		models.StatusPrepped:   true,
		models.StatusArchived:  true,
	},
	models.StatusPrepped: {
		models.StatusCompleted: true,
		models.StatusArchived:  true,
	},
	models.StatusCompleted: {},
	models.StatusArchived:  {},
}

type Config struct {
	DuplicateThreshold float64
	GrayZoneThreshold  float64
	DateWindowDays     int
}

func DefaultConfig() Config {
	return Config{
		DuplicateThreshold: 0.8,
		GrayZoneThreshold:  0.6,
		DateWindowDays:     30,
	}
}

// Store is the deduplicating interview repository. Writes to a given
// record are serialized through a per-record advisory lock so only one
// reflection loop runs per record at a time.
type Store struct {
	db      *sqlite.Client
	matcher *Matcher
	cfg     Config

	mu    sync.Mutex
	locks map[string]bool
}

func NewStore(db *sqlite.Client, cfg Config) *Store {
	if cfg.DuplicateThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Store{
		db:      db,
		matcher: NewMatcher(cfg.DateWindowDays),
		cfg:     cfg,
		locks:   make(map[string]bool),
	}
}

// LookupOrCreate dedups the extraction tuple against stored records and
// acquires the record's advisory lock. Candidates at or above the
// duplicate threshold update the existing record in place; scores in
// the gray zone create a new record carrying a possible_duplicate_of
// advisory reference instead of silently merging.
//
// If another session already holds the lock the record is still
// returned, together with ErrSessionActive.
func (s *Store) LookupOrCreate(ctx context.Context, fields models.ExtractedEntities) (*models.InterviewRecord, bool, error) {
	key := SimilarityKey(fields.Company, fields.Role, fields.Interviewer)

	candidates, err := s.db.FindBySimilarityKey(key)
	if err != nil {
		return nil, false, fmt.Errorf("candidate lookup failed: %w", err)
	}
	if len(candidates) == 0 && Normalize(fields.Company) != "" {
		candidates, err = s.db.FindByKeyPrefix(CompanyKeyPrefix(fields.Company))
		if err != nil {
			return nil, false, fmt.Errorf("candidate lookup failed: %w", err)
		}
	}

	var best *models.InterviewRecord
	var bestScore float64
	for _, cand := range candidates {
		if score := s.matcher.Score(cand, fields); score > bestScore {
			best, bestScore = cand, score
		}
	}

	if best != nil && bestScore >= s.cfg.DuplicateThreshold {
		logger.Info("Duplicate interview detected",
			zap.String("interview_id", best.ID),
			zap.Float64("similarity", bestScore),
		)

		if err := s.db.FillMissingFields(best.ID, fields); err != nil {
			return nil, false, err
		}
		rec, err := s.db.GetInterview(best.ID)
		if err != nil {
			return nil, false, err
		}
		if !s.tryLock(rec.ID) {
			return rec, false, fmt.Errorf("interview %s: %w", rec.ID, ErrSessionActive)
		}
		return rec, false, nil
	}

	now := time.Now()
	rec := &models.InterviewRecord{
		ID:            uuid.New().String(),
		Company:       fields.Company,
		Role:          fields.Role,
		Interviewer:   fields.Interviewer,
		ScheduledAt:   fields.ScheduledAt,
		Status:        models.StatusNew,
		SimilarityKey: key,
		SourceContext: fields.SourceContext,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if best != nil && bestScore >= s.cfg.GrayZoneThreshold {
		// Gray zone: cannot confidently merge. Favor a duplicate over
		// silent data loss and leave a reference for manual review.
		rec.PossibleDuplicateOf = best.ID
		logger.Warn("Ambiguous duplicate, creating new record",
			zap.String("possible_duplicate_of", best.ID),
			zap.Float64("similarity", bestScore),
		)
	}

	if err := s.db.InsertInterview(rec); err != nil {
		return nil, false, err
	}
	if !s.tryLock(rec.ID) {
		return rec, true, fmt.Errorf("interview %s: %w", rec.ID, ErrSessionActive)
	}

	logger.Info("Interview created",
		zap.String("interview_id", rec.ID),
		zap.String("company", rec.Company),
		zap.String("role", rec.Role),
	)
	return rec, true, nil
}

// Transition validates and applies a lifecycle move.
func (s *Store) Transition(ctx context.Context, id string, newStatus models.InterviewStatus) error {
	rec, err := s.db.GetInterview(id)
	if err != nil {
		return err
	}

	if !transitions[rec.Status][newStatus] {
		return fmt.Errorf("%s -> %s: %w", rec.Status, newStatus, ErrInvalidTransition)
	}

	if err := s.db.UpdateStatus(id, rec.Status, newStatus); err != nil {
		return err
	}

	logger.Info("Interview status changed",
		zap.String("interview_id", id),
		zap.String("from", string(rec.Status)),
		zap.String("to", string(newStatus)),
	)
	return nil
}

// AttachResearch persists the final payload and scores and advances the
// record from preparing to prepped.
func (s *Store) AttachResearch(ctx context.Context, id string, payload json.RawMessage, quality, confidence float64) error {
	rec, err := s.db.GetInterview(id)
	if err != nil {
		return err
	}
	if !transitions[rec.Status][models.StatusPrepped] {
		return fmt.Errorf("%s -> %s: %w", rec.Status, models.StatusPrepped, ErrInvalidTransition)
	}

	if err := s.db.UpdateResearch(id, payload, quality, confidence, models.StatusPrepped); err != nil {
		return err
	}

	logger.Info("Research attached",
		zap.String("interview_id", id),
		zap.Float64("quality_score", quality),
		zap.Float64("confidence_score", confidence),
	)
	return nil
}

// SaveProgress persists partial results without advancing the status,
// so a cancelled session can resume instead of re-querying from scratch.
func (s *Store) SaveProgress(ctx context.Context, id string, payload json.RawMessage, quality, confidence float64) error {
	rec, err := s.db.GetInterview(id)
	if err != nil {
		return err
	}
	return s.db.UpdateResearch(id, payload, quality, confidence, rec.Status)
}

// FlagForReview marks a record whose research exhausted its retry
// budget below the quality threshold, for downstream warning display.
func (s *Store) FlagForReview(ctx context.Context, id string) error {
	return s.db.SetNeedsReview(id)
}

// FindUnprepped returns records still awaiting research, oldest first.
// The optional filter lets callers apply a priority predicate.
func (s *Store) FindUnprepped(ctx context.Context, limit int, filter func(*models.InterviewRecord) bool) ([]*models.InterviewRecord, error) {
	records, err := s.db.ListByStatuses(
		[]models.InterviewStatus{models.StatusNew, models.StatusPreparing},
		limit,
	)
	if err != nil {
		return nil, err
	}

	if filter == nil {
		return records, nil
	}

	filtered := records[:0]
	for _, rec := range records {
		if filter(rec) {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.InterviewRecord, error) {
	return s.db.GetInterview(id)
}

// Archive moves a record to the archived terminal state. Records are
// never hard-deleted.
func (s *Store) Archive(ctx context.Context, id string) error {
	return s.Transition(ctx, id, models.StatusArchived)
}

func (s *Store) StatusCounts(ctx context.Context) (map[models.InterviewStatus]int, error) {
	return s.db.StatusCounts()
}

func (s *Store) History(ctx context.Context, id string) ([]models.ChangeRecord, error) {
	return s.db.ListChanges(id)
}

// ReleaseLock frees the advisory lock once a reflection loop reaches a
// terminal state.
func (s *Store) ReleaseLock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
}

func (s *Store) tryLock(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[id] {
		return false
	}
	s.locks[id] = true
	return true
}
