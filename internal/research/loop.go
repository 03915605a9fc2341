package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prep-agent/backend/internal/interview"
	"github.com/prep-agent/backend/internal/metrics"
	"github.com/prep-agent/backend/internal/storage/models"
	"github.com/prep-agent/backend/pkg/logger"
)

// Session states published to the progress hub.
const (
	StateCollecting   = "collecting"
	StateEvaluating   = "evaluating"
	StateSufficient   = "sufficient"
	StateInsufficient = "insufficient"
	StateExhausted    = "exhausted"
	StateCancelled    = "cancelled"
)

type LoopConfig struct {
	// QualityThreshold is the minimum quality score that ends the loop
	// without further iterations.
	QualityThreshold float64

	// MaxIterations bounds the extra collection rounds after the first.
	MaxIterations int

	// UpstreamTimeout caps each category's collection call.
	UpstreamTimeout time.Duration
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		QualityThreshold: 0.6,
		MaxIterations:    2,
		UpstreamTimeout:  15 * time.Second,
	}
}

// Payload is the research document attached to an interview record.
type Payload struct {
	Findings    map[string]CategoryFindings `json:"findings"`
	Quality     float64                     `json:"quality_score"`
	Confidence  float64                     `json:"confidence_score"`
	Iterations  int                         `json:"iterations"`
	CompletedAt time.Time                   `json:"completed_at"`
}

// Researcher gathers findings for one category of one subject.
type Researcher interface {
	Research(ctx context.Context, category string, subj Subject) CategoryFindings
}

// Loop runs bounded reflection over the research sources: collect,
// score, and re-collect only the categories that came back thin, up to
// the iteration budget. Partial results are always persisted; the loop
// never discards paid-for work.
type Loop struct {
	store   *interview.Store
	sources Researcher
	hub     *Hub
	cfg     LoopConfig
}

func NewLoop(store *interview.Store, sources Researcher, hub *Hub, cfg LoopConfig) *Loop {
	if cfg.QualityThreshold == 0 {
		cfg = DefaultLoopConfig()
	}
	return &Loop{store: store, sources: sources, hub: hub, cfg: cfg}
}

// Run executes one research session for the record. The caller must
// hold the record's advisory lock; Run releases it on return.
func (l *Loop) Run(ctx context.Context, rec *models.InterviewRecord) error {
	defer l.store.ReleaseLock(rec.ID)

	sessionID := uuid.New().String()
	subject := Subject{
		Company:     rec.Company,
		Role:        rec.Role,
		Interviewer: rec.Interviewer,
	}

	logger.Info("Research session started",
		zap.String("session_id", sessionID),
		zap.String("interview_id", rec.ID),
		zap.String("company", rec.Company),
	)

	if rec.Status == models.StatusNew {
		if err := l.store.Transition(ctx, rec.ID, models.StatusPreparing); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
	}

	findings := make(map[string]CategoryFindings, len(Categories))
	pending := append([]string(nil), Categories...)

	for iteration := 0; ; iteration++ {
		l.publish(sessionID, rec.ID, StateCollecting, iteration, 0, 0, "")
		l.collect(ctx, subject, pending, findings)

		l.publish(sessionID, rec.ID, StateEvaluating, iteration, 0, 0, "")
		quality, confidence := Score(findings)

		logger.Info("Research round evaluated",
			zap.String("session_id", sessionID),
			zap.Int("iteration", iteration),
			zap.Float64("quality", quality),
			zap.Float64("confidence", confidence),
		)

		if quality >= l.cfg.QualityThreshold {
			l.publish(sessionID, rec.ID, StateSufficient, iteration, quality, confidence, "")
			return l.finish(ctx, sessionID, rec.ID, findings, quality, confidence, iteration, false)
		}

		pending = insufficientCategories(findings)
		l.publish(sessionID, rec.ID, StateInsufficient, iteration, quality, confidence,
			fmt.Sprintf("%d categories below target", len(pending)))

		if iteration >= l.cfg.MaxIterations || len(pending) == 0 {
			metrics.SessionsExhausted.Inc()
			l.publish(sessionID, rec.ID, StateExhausted, iteration, quality, confidence, "")
			return l.finish(ctx, sessionID, rec.ID, findings, quality, confidence, iteration, true)
		}

		// Cancellation is honored between iterations only, so a round's
		// paid-for results always land in the store before we stop.
		if err := ctx.Err(); err != nil {
			l.publish(sessionID, rec.ID, StateCancelled, iteration, quality, confidence, "")
			if saveErr := l.save(rec.ID, findings, quality, confidence, iteration); saveErr != nil {
				return saveErr
			}
			logger.Warn("Research session cancelled, progress saved",
				zap.String("session_id", sessionID),
				zap.String("interview_id", rec.ID),
			)
			return err
		}

		// Records the preparing self-loop for the retry round.
		if err := l.store.Transition(ctx, rec.ID, models.StatusPreparing); err != nil {
			return err
		}
	}
}

// collect researches the given categories concurrently. Each goroutine
// writes only its own slot; results merge deterministically by category
// key. A failed category records its error and never aborts the round.
func (l *Loop) collect(ctx context.Context, subject Subject, categories []string, findings map[string]CategoryFindings) {
	results := make([]CategoryFindings, len(categories))

	var wg sync.WaitGroup
	for i, category := range categories {
		wg.Add(1)
		go func(i int, category string) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, l.cfg.UpstreamTimeout)
			defer cancel()

			results[i] = l.sources.Research(callCtx, category, subject)
		}(i, category)
	}
	wg.Wait()

	for _, f := range results {
		// A retry that does worse than a previous round must not
		// clobber better findings already in hand.
		if prev, ok := findings[f.Category]; ok && prev.richness() > f.richness() {
			continue
		}
		findings[f.Category] = f
	}
}

// Score computes the quality and confidence of a findings set.
//
// Quality is the richness-weighted category sum. Confidence starts at
// 0.8 with a clean round or 0.5 with any recorded error, plus 0.2 times
// the fraction of categories with usable findings, capped at 1.0.
func Score(findings map[string]CategoryFindings) (quality, confidence float64) {
	covered := 0
	hadError := false

	for _, category := range Categories {
		f := findings[category]
		if f.Error != "" {
			hadError = true
		}
		r := f.richness()
		if r > 0 {
			covered++
		}
		quality += categoryWeights[category] * r
	}

	base := 0.8
	if hadError {
		base = 0.5
	}
	confidence = base + 0.2*float64(covered)/float64(len(Categories))
	if confidence > 1.0 {
		confidence = 1.0
	}
	return quality, confidence
}

func insufficientCategories(findings map[string]CategoryFindings) []string {
	var pending []string
	for _, category := range Categories {
		if !findings[category].sufficient() {
			pending = append(pending, category)
		}
	}
	return pending
}

// finish persists the session outcome. Exhausted sessions still attach
// their best partials and advance to prepped, flagged for review.
func (l *Loop) finish(ctx context.Context, sessionID, interviewID string, findings map[string]CategoryFindings, quality, confidence float64, iteration int, exhausted bool) error {
	payload, err := marshalPayload(findings, quality, confidence, iteration)
	if err != nil {
		return err
	}

	if err := l.store.AttachResearch(ctx, interviewID, payload, quality, confidence); err != nil {
		// A record already archived mid-session keeps its state; the
		// session result is simply dropped.
		if errors.Is(err, interview.ErrInvalidTransition) {
			logger.Warn("Record moved during session, research not attached",
				zap.String("interview_id", interviewID),
				zap.Error(err),
			)
			return nil
		}
		return err
	}

	if exhausted {
		if err := l.store.FlagForReview(ctx, interviewID); err != nil {
			return err
		}
	}

	metrics.ResearchIterations.Observe(float64(iteration))
	metrics.QualityScore.Observe(quality)
	metrics.ConfidenceScore.Observe(confidence)

	logger.Info("Research session finished",
		zap.String("session_id", sessionID),
		zap.String("interview_id", interviewID),
		zap.Float64("quality", quality),
		zap.Float64("confidence", confidence),
		zap.Int("iterations", iteration),
		zap.Bool("needs_review", exhausted),
	)
	return nil
}

func (l *Loop) save(interviewID string, findings map[string]CategoryFindings, quality, confidence float64, iteration int) error {
	payload, err := marshalPayload(findings, quality, confidence, iteration)
	if err != nil {
		return err
	}
	// Saved under a fresh context: the session context is already done.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.store.SaveProgress(saveCtx, interviewID, payload, quality, confidence)
}

func marshalPayload(findings map[string]CategoryFindings, quality, confidence float64, iteration int) (json.RawMessage, error) {
	payload := Payload{
		Findings:    findings,
		Quality:     quality,
		Confidence:  confidence,
		Iterations:  iteration,
		CompletedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode research payload: %w", err)
	}
	return data, nil
}

func (l *Loop) publish(sessionID, interviewID, state string, iteration int, quality, confidence float64, message string) {
	l.hub.Publish(Event{
		SessionID:   sessionID,
		InterviewID: interviewID,
		State:       state,
		Iteration:   iteration,
		Quality:     quality,
		Confidence:  confidence,
		Message:     message,
	})
}
