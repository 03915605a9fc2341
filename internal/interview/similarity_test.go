package interview

import (
	"math"
	"testing"
	"time"

	"github.com/prep-agent/backend/internal/storage/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreExactMatchAllFields(t *testing.T) {
	m := NewMatcher(30)
	rec := &models.InterviewRecord{
		Company:     "Acme",
		Role:        "Backend Engineer",
		Interviewer: "Jane Doe",
	}
	fields := models.ExtractedEntities{
		Company:     "Acme",
		Role:        "Backend Engineer",
		Interviewer: "Jane Doe",
	}

	if got := m.Score(rec, fields); !almostEqual(got, 1.0) {
		t.Fatalf("score = %v, want 1.0", got)
	}
}

func TestScoreWeights(t *testing.T) {
	m := NewMatcher(30)

	tests := []struct {
		name   string
		rec    *models.InterviewRecord
		fields models.ExtractedEntities
		want   float64
	}{
		{
			name:   "company only",
			rec:    &models.InterviewRecord{Company: "Acme"},
			fields: models.ExtractedEntities{Company: "Acme"},
			want:   0.5,
		},
		{
			name:   "company and role",
			rec:    &models.InterviewRecord{Company: "Acme", Role: "Backend Engineer"},
			fields: models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"},
			want:   0.8,
		},
		{
			name:   "role and interviewer without company",
			rec:    &models.InterviewRecord{Role: "Backend Engineer", Interviewer: "Jane Doe"},
			fields: models.ExtractedEntities{Role: "Backend Engineer", Interviewer: "Jane Doe"},
			want:   0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Score(tt.rec, tt.fields); !almostEqual(got, tt.want) {
				t.Fatalf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreMissingFieldIsNeverAMatch(t *testing.T) {
	m := NewMatcher(30)
	rec := &models.InterviewRecord{Company: "Acme", Interviewer: ""}
	fields := models.ExtractedEntities{Company: "Acme", Interviewer: ""}

	// Both interviewers unknown: the interviewer term must contribute 0,
	// not 1.
	if got := m.Score(rec, fields); !almostEqual(got, 0.5) {
		t.Fatalf("score = %v, want 0.5", got)
	}
}

func TestScoreNormalizesCaseAndLegalSuffixes(t *testing.T) {
	m := NewMatcher(30)
	rec := &models.InterviewRecord{Company: "Acme Corp"}
	fields := models.ExtractedEntities{Company: "ACME, Inc."}

	if got := m.Score(rec, fields); !almostEqual(got, 0.5) {
		t.Fatalf("score = %v, want 0.5 (company normalized equal)", got)
	}
}

func TestScoreDateGapPenalty(t *testing.T) {
	m := NewMatcher(30)

	recDate := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	farDate := recDate.AddDate(0, 0, 90)
	nearDate := recDate.AddDate(0, 0, 10)

	rec := &models.InterviewRecord{
		Company:     "Acme",
		Role:        "Backend Engineer",
		ScheduledAt: &recDate,
	}

	near := m.Score(rec, models.ExtractedEntities{
		Company: "Acme", Role: "Backend Engineer", ScheduledAt: &nearDate,
	})
	if !almostEqual(near, 0.8) {
		t.Fatalf("near-date score = %v, want 0.8", near)
	}

	// 90 days apart: same company and role, but almost certainly a
	// different interview cycle.
	far := m.Score(rec, models.ExtractedEntities{
		Company: "Acme", Role: "Backend Engineer", ScheduledAt: &farDate,
	})
	if !almostEqual(far, 0.4) {
		t.Fatalf("far-date score = %v, want 0.4", far)
	}
}

func TestScoreNoDatePenaltyWhenEitherDateMissing(t *testing.T) {
	m := NewMatcher(30)
	date := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)

	rec := &models.InterviewRecord{Company: "Acme", Role: "Backend Engineer", ScheduledAt: &date}
	got := m.Score(rec, models.ExtractedEntities{Company: "Acme", Role: "Backend Engineer"})
	if !almostEqual(got, 0.8) {
		t.Fatalf("score = %v, want 0.8 (no penalty without both dates)", got)
	}
}

func TestScorePartialRoleOverlap(t *testing.T) {
	m := NewMatcher(30)
	rec := &models.InterviewRecord{Company: "Acme", Role: "Backend Engineer"}
	fields := models.ExtractedEntities{Company: "Acme", Role: "Senior Backend Engineer"}

	// Role overlap 2/3 by token Jaccard: 0.5 + 0.3*(2/3) = 0.7.
	if got := m.Score(rec, fields); !almostEqual(got, 0.7) {
		t.Fatalf("score = %v, want 0.7", got)
	}
}

func TestSimilarityKeyStability(t *testing.T) {
	a := SimilarityKey("Acme Corp", "Backend  Engineer", "Jane Doe")
	b := SimilarityKey("ACME, Inc.", "backend engineer", "JANE DOE")
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if a != "acme|backend engineer|jane doe" {
		t.Fatalf("key = %q", a)
	}
}

func TestCompanyKeyPrefix(t *testing.T) {
	if got := CompanyKeyPrefix("Acme Corp"); got != "acme|" {
		t.Fatalf("prefix = %q, want %q", got, "acme|")
	}
}
