package intake

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prep-agent/backend/internal/interview"
	"github.com/prep-agent/backend/internal/research"
	"github.com/prep-agent/backend/internal/storage/models"
	"github.com/prep-agent/backend/internal/storage/sqlite"
)

type stubResearcher struct{}

func (stubResearcher) Research(ctx context.Context, category string, subj research.Subject) research.CategoryFindings {
	return research.CategoryFindings{
		Category: category,
		Summary:  "findings",
		Sources:  []string{"https://example.com/" + category},
	}
}

func newTestProcessor(t *testing.T) (*Processor, *interview.Store) {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}

	store := interview.NewStore(db, interview.DefaultConfig())
	loop := research.NewLoop(store, stubResearcher{}, research.NewHub(), research.DefaultLoopConfig())
	return NewProcessor(store, loop), store
}

func TestProcessRejectsMissingCompany(t *testing.T) {
	p, _ := newTestProcessor(t)

	_, err := p.Process(context.Background(), models.ExtractedEntities{Role: "Backend Engineer"})
	if !errors.Is(err, ErrMissingCompany) {
		t.Fatalf("err = %v, want ErrMissingCompany", err)
	}
}

func TestProcessRunsResearchToCompletion(t *testing.T) {
	p, store := newTestProcessor(t)
	ctx := context.Background()

	result, err := p.Process(ctx, models.ExtractedEntities{
		Company: "Acme", Role: "Backend Engineer", Interviewer: "Jane Doe",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Created || !result.SessionStarted {
		t.Fatalf("result = %+v, want created with a session started", result)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := store.Get(ctx, result.Record.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Status == models.StatusPrepped {
			if rec.QualityScore != 1.0 {
				t.Fatalf("quality = %v, want 1.0 with all categories cited", rec.QualityScore)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never finished, status = %s", rec.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestProcessReportsSessionConflict(t *testing.T) {
	p, store := newTestProcessor(t)
	ctx := context.Background()
	fields := models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"}

	// Hold the lock the way a running session would.
	first, _, err := store.LookupOrCreate(ctx, fields)
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}

	result, err := p.Process(ctx, fields)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.SessionConflict || result.SessionStarted {
		t.Fatalf("result = %+v, want a conflict without a new session", result)
	}
	if result.Record.ID != first.ID {
		t.Fatalf("record = %s, want %s", result.Record.ID, first.ID)
	}
}
