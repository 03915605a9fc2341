package interview

import (
	"strings"
	"time"

	"github.com/prep-agent/backend/internal/storage/models"
)

// Field weights for the similarity score. Company dominates because
// entity extraction gets it right far more often than role wording or
// interviewer spelling.
const (
	CompanyWeight     = 0.5
	RoleWeight        = 0.3
	InterviewerWeight = 0.2
)

// Legal suffixes stripped during normalization so "Acme Corp" and
// "Acme, Inc." compare equal on the company token.
var legalSuffixes = map[string]bool{
	"inc":          true,
	"llc":          true,
	"ltd":          true,
	"co":           true,
	"corp":         true,
	"gmbh":         true,
	"limited":      true,
	"corporation":  true,
	"incorporated": true,
}

// Matcher scores how likely two interview records describe the same
// real-world interview. Scores are in [0,1].
type Matcher struct {
	// DateWindow is the maximum scheduled_at gap before the penalty
	// applies. A large gap strongly suggests a distinct interview
	// cycle even for the same company/role pairing.
	DateWindow time.Duration

	// DatePenalty multiplies the final score when both dates are
	// present and further apart than DateWindow.
	DatePenalty float64
}

func NewMatcher(dateWindowDays int) *Matcher {
	return &Matcher{
		DateWindow:  time.Duration(dateWindowDays) * 24 * time.Hour,
		DatePenalty: 0.5,
	}
}

// Score compares a stored record against candidate extraction fields.
// Missing fields on either side contribute zero to their weighted term;
// they are never treated as a match.
func (m *Matcher) Score(rec *models.InterviewRecord, fields models.ExtractedEntities) float64 {
	score := CompanyWeight*fieldSimilarity(rec.Company, fields.Company) +
		RoleWeight*fieldSimilarity(rec.Role, fields.Role) +
		InterviewerWeight*fieldSimilarity(rec.Interviewer, fields.Interviewer)

	if rec.ScheduledAt != nil && fields.ScheduledAt != nil {
		gap := rec.ScheduledAt.Sub(*fields.ScheduledAt)
		if gap < 0 {
			gap = -gap
		}
		if gap > m.DateWindow {
			score *= m.DatePenalty
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// SimilarityKey builds the normalized composite used for fast candidate
// lookup before full scoring.
func SimilarityKey(company, role, interviewer string) string {
	return Normalize(company) + "|" + Normalize(role) + "|" + Normalize(interviewer)
}

// CompanyKeyPrefix is the leading component of the similarity key, used
// to widen candidate lookup to same-company records.
func CompanyKeyPrefix(company string) string {
	return Normalize(company) + "|"
}

// Normalize case-folds, strips legal suffixes, and collapses whitespace.
func Normalize(s string) string {
	tokens := tokenize(s)
	return strings.Join(tokens, " ")
}

func fieldSimilarity(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	if strings.Join(ta, " ") == strings.Join(tb, " ") {
		return 1.0
	}

	// Token-overlap ratio (Jaccard) for near matches like
	// "Backend Engineer" vs "Senior Backend Engineer".
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	union := len(set)
	overlap := 0
	for _, t := range tb {
		if set[t] {
			overlap++
			delete(set, t)
		} else {
			union++
		}
	}

	return float64(overlap) / float64(union)
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:()")
		if f == "" || legalSuffixes[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
