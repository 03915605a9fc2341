package interview

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prep-agent/backend/internal/storage/models"
	"github.com/prep-agent/backend/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}

	return NewStore(db, DefaultConfig())
}

func mustCreate(t *testing.T, s *Store, fields models.ExtractedEntities) *models.InterviewRecord {
	t.Helper()
	rec, created, err := s.LookupOrCreate(context.Background(), fields)
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if !created {
		t.Fatalf("expected a new record for %+v", fields)
	}
	s.ReleaseLock(rec.ID)
	return rec
}

func TestLookupOrCreateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fields := models.ExtractedEntities{
		Company: "Acme", Role: "Backend Engineer", Interviewer: "Jane Doe",
	}

	first := mustCreate(t, s, fields)
	if first.Status != models.StatusNew {
		t.Fatalf("status = %s, want new", first.Status)
	}

	second, created, err := s.LookupOrCreate(ctx, fields)
	if err != nil {
		t.Fatalf("second LookupOrCreate: %v", err)
	}
	if created {
		t.Fatal("same tuple created a second record")
	}
	if second.ID != first.ID {
		t.Fatalf("got record %s, want %s", second.ID, first.ID)
	}
}

func TestLookupOrCreateFillsMissingFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := mustCreate(t, s, models.ExtractedEntities{
		Company: "Acme", Role: "Backend Engineer",
	})
	if rec.Interviewer != "" {
		t.Fatalf("interviewer = %q, want empty", rec.Interviewer)
	}

	// Same tuple plus the interviewer scores 0.8 and enriches in place.
	merged, created, err := s.LookupOrCreate(ctx, models.ExtractedEntities{
		Company: "Acme", Role: "Backend Engineer", Interviewer: "Jane Doe",
	})
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if created || merged.ID != rec.ID {
		t.Fatalf("expected merge into %s, got created=%v id=%s", rec.ID, created, merged.ID)
	}
	if merged.Interviewer != "Jane Doe" {
		t.Fatalf("interviewer = %q, want filled", merged.Interviewer)
	}
}

func TestLookupOrCreateGrayZone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mustCreate(t, s, models.ExtractedEntities{
		Company: "Acme", Role: "Backend Engineer", Interviewer: "Jane Doe",
	})

	// Same company, partially matching role, no interviewer:
	// 0.5 + 0.3*(2/3) = 0.7, inside [0.6, 0.8).
	rec, created, err := s.LookupOrCreate(ctx, models.ExtractedEntities{
		Company: "Acme", Role: "Senior Backend Engineer",
	})
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if !created {
		t.Fatal("gray-zone match must create a new record")
	}
	if rec.PossibleDuplicateOf != first.ID {
		t.Fatalf("possible_duplicate_of = %q, want %s", rec.PossibleDuplicateOf, first.ID)
	}
}

func TestLookupOrCreateBelowGrayZone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, models.ExtractedEntities{
		Company: "Acme", Role: "Backend Engineer",
	})

	rec, created, err := s.LookupOrCreate(ctx, models.ExtractedEntities{
		Company: "Globex", Role: "Backend Engineer",
	})
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if !created || rec.PossibleDuplicateOf != "" {
		t.Fatalf("distinct company should create a clean record, got created=%v dup=%q",
			created, rec.PossibleDuplicateOf)
	}
}

func TestLookupOrCreateSessionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fields := models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"}

	first, _, err := s.LookupOrCreate(ctx, fields)
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}

	// Lock still held by the first session.
	second, _, err := s.LookupOrCreate(ctx, fields)
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("err = %v, want ErrSessionActive", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatal("conflicting lookup must still return the record")
	}

	s.ReleaseLock(first.ID)
	if _, _, err := s.LookupOrCreate(ctx, fields); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"})

	steps := []models.InterviewStatus{
		models.StatusPreparing,
		models.StatusPreparing, // retry self-loop
		models.StatusPrepped,
		models.StatusCompleted,
	}
	for _, status := range steps {
		if err := s.Transition(ctx, rec.ID, status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestTransitionRejectsInvalidMoves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		walk []models.InterviewStatus
		to   models.InterviewStatus
	}{
		{"new to prepped", nil, models.StatusPrepped},
		{"new to completed", nil, models.StatusCompleted},
		{"preparing to completed", []models.InterviewStatus{models.StatusPreparing}, models.StatusCompleted},
		{"prepped to new", []models.InterviewStatus{models.StatusPreparing, models.StatusPrepped}, models.StatusNew},
		{"completed is terminal", []models.InterviewStatus{models.StatusPreparing, models.StatusPrepped, models.StatusCompleted}, models.StatusArchived},
		{"archived is terminal", []models.InterviewStatus{models.StatusArchived}, models.StatusPreparing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := mustCreate(t, s, models.ExtractedEntities{
				Company: "Acme " + tt.name, Role: "Backend Engineer",
			})
			for _, status := range tt.walk {
				if err := s.Transition(ctx, rec.ID, status); err != nil {
					t.Fatalf("setup transition to %s: %v", status, err)
				}
			}
			if err := s.Transition(ctx, rec.ID, tt.to); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("err = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestAttachResearchRequiresPreparing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"})

	payload := json.RawMessage(`{"findings":{}}`)

	if err := s.AttachResearch(ctx, rec.ID, payload, 0.8, 0.9); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("attach on new record: err = %v, want ErrInvalidTransition", err)
	}

	if err := s.Transition(ctx, rec.ID, models.StatusPreparing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := s.AttachResearch(ctx, rec.ID, payload, 0.8, 0.9); err != nil {
		t.Fatalf("AttachResearch: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusPrepped {
		t.Fatalf("status = %s, want prepped", got.Status)
	}
	if got.QualityScore != 0.8 || got.ConfidenceScore != 0.9 {
		t.Fatalf("scores = %v/%v, want 0.8/0.9", got.QualityScore, got.ConfidenceScore)
	}
	if string(got.ResearchPayload) != string(payload) {
		t.Fatalf("payload = %s", got.ResearchPayload)
	}
}

func TestSaveProgressKeepsStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"})

	if err := s.Transition(ctx, rec.ID, models.StatusPreparing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := s.SaveProgress(ctx, rec.ID, json.RawMessage(`{"partial":true}`), 0.3, 0.5); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusPreparing {
		t.Fatalf("status = %s, want preparing (progress save must not advance)", got.Status)
	}
	if len(got.ResearchPayload) == 0 {
		t.Fatal("partial payload was not persisted")
	}
}

func TestFindUnprepped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"})
	b := mustCreate(t, s, models.ExtractedEntities{Company: "Globex", Role: "Data Engineer"})
	c := mustCreate(t, s, models.ExtractedEntities{Company: "Initech", Role: "SRE"})

	// b is mid-research, c is done.
	if err := s.Transition(ctx, b.ID, models.StatusPreparing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	for _, status := range []models.InterviewStatus{models.StatusPreparing, models.StatusPrepped} {
		if err := s.Transition(ctx, c.ID, status); err != nil {
			t.Fatalf("Transition: %v", err)
		}
	}

	records, err := s.FindUnprepped(ctx, 10, nil)
	if err != nil {
		t.Fatalf("FindUnprepped: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	ids := map[string]bool{records[0].ID: true, records[1].ID: true}
	if !ids[a.ID] || !ids[b.ID] {
		t.Fatalf("unexpected record set: %v", ids)
	}

	// Priority predicate narrows the set.
	filtered, err := s.FindUnprepped(ctx, 10, func(r *models.InterviewRecord) bool {
		return r.Status == models.StatusNew
	})
	if err != nil {
		t.Fatalf("FindUnprepped with filter: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != a.ID {
		t.Fatalf("filtered = %+v, want only record a", filtered)
	}
}

func TestFlagForReview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"})

	if err := s.FlagForReview(ctx, rec.ID); err != nil {
		t.Fatalf("FlagForReview: %v", err)
	}
	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.NeedsReview {
		t.Fatal("needs_review not set")
	}
}

func TestHistoryRecordsStatusChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"})

	if err := s.Transition(ctx, rec.ID, models.StatusPreparing); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	changes, err := s.History(ctx, rec.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	ch := changes[0]
	if ch.FieldName != "status" || ch.OldValue != "new" || ch.NewValue != "preparing" {
		t.Fatalf("change = %+v", ch)
	}
}

func TestStatusCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"})
	rec := mustCreate(t, s, models.ExtractedEntities{Company: "Globex", Role: "Data Engineer"})
	if err := s.Archive(ctx, rec.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	counts, err := s.StatusCounts(ctx)
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if counts[models.StatusNew] != 1 || counts[models.StatusArchived] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
