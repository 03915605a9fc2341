package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/prep-agent/backend/internal/interview"
	"github.com/prep-agent/backend/internal/metrics"
	"github.com/prep-agent/backend/internal/research"
	"github.com/prep-agent/backend/internal/storage/models"
	"github.com/prep-agent/backend/pkg/logger"
)

var ErrMissingCompany = errors.New("extraction is missing a company")

// Processor receives extraction tuples from the upstream email/calendar
// pipeline, deduplicates them against the store, and kicks off a
// research session for records nobody is already working on.
type Processor struct {
	store *interview.Store
	loop  *research.Loop
}

func NewProcessor(store *interview.Store, loop *research.Loop) *Processor {
	return &Processor{store: store, loop: loop}
}

// Result reports what intake did with one extraction.
type Result struct {
	Record          *models.InterviewRecord
	Created         bool
	SessionStarted  bool
	SessionConflict bool
}

// Process dedups the extraction and, when the record's advisory lock is
// free, starts its reflection loop in the background. A lock conflict
// is not an error from the caller's view: the record exists and someone
// is already researching it.
func (p *Processor) Process(ctx context.Context, fields models.ExtractedEntities) (*Result, error) {
	if strings.TrimSpace(fields.Company) == "" {
		return nil, ErrMissingCompany
	}

	if fields.Interviewer == "" && fields.SourceContext != "" {
		if name := extractPersonName(fields.SourceContext); name != "" {
			logger.Info("Interviewer recovered from source context", zap.String("interviewer", name))
			fields.Interviewer = name
		}
	}

	rec, created, err := p.store.LookupOrCreate(ctx, fields)
	if err != nil {
		if errors.Is(err, interview.ErrSessionActive) {
			logger.Info("Research already in progress, intake merged only",
				zap.String("interview_id", rec.ID),
			)
			return &Result{Record: rec, Created: created, SessionConflict: true}, nil
		}
		return nil, fmt.Errorf("intake failed: %w", err)
	}

	if !created {
		metrics.InterviewsDeduplicated.Inc()
	}

	result := &Result{Record: rec, Created: created}

	switch rec.Status {
	case models.StatusNew, models.StatusPreparing:
		go func() {
			if err := p.loop.Run(context.Background(), rec); err != nil {
				logger.Error("Research session failed",
					zap.String("interview_id", rec.ID),
					zap.Error(err),
				)
			}
		}()
		result.SessionStarted = true
	default:
		// Already prepped or beyond; nothing to research.
		p.store.ReleaseLock(rec.ID)
	}

	return result, nil
}

// extractPersonName pulls the first PERSON entity out of free text.
// Used when the structured extraction lost the interviewer but the raw
// context ("Interview with Jane Doe on ...") still names them.
func extractPersonName(text string) string {
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		logger.Warn("NER over source context failed", zap.Error(err))
		return ""
	}

	for _, ent := range doc.Entities() {
		if ent.Label == "PERSON" {
			return strings.TrimSpace(ent.Text)
		}
	}
	return ""
}
