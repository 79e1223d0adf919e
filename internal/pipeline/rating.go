package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/queue"
)

// Rate scores one lead. The lead is claimed pending to processing first, so
// a duplicate delivery of the same message does nothing. Whatever the rating
// outcome, the lead is handed to enrichment afterwards: the axes are
// independent and a lead that cannot be rated is still worth enriching.
func (p *Pipeline) Rate(ctx context.Context, leadID string, attemptNum int) error {
	log := p.log.With(zap.String("lead_id", leadID), zap.String("stage", "rating"))

	lead, ok, err := p.getLead(ctx, leadID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	claimed, err := p.store.ClaimLeadForRating(ctx, leadID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug("lead not claimable, skipping",
			zap.String("status", string(lead.RatingStatus)))
		return nil
	}

	if p.scorer == nil || !p.scorer.Configured() {
		// Park instead of failing: pending_config leads are re-armed once
		// the scorer credentials exist.
		if err := p.store.SetRatingStatus(ctx, leadID, model.RatingPendingConfig, ""); err != nil {
			return err
		}
		log.Info("scorer not configured, lead parked")
		p.enqueueNext(ctx, model.StageEnrich, leadID)
		return nil
	}

	score, err := p.scorer.ScoreLead(ctx, lead)
	if err != nil {
		decision := p.policy.Decide(err, attemptNum)
		if decision.Retry {
			// Release the claim so the retry can take it again.
			if serr := p.store.SetRatingStatus(ctx, leadID, model.RatingPending, err.Error()); serr != nil {
				return serr
			}
			log.Warn("rating failed, will retry",
				zap.Int("attempt", attemptNum),
				zap.Error(err))
			return err
		}

		if serr := p.store.SetRatingStatus(ctx, leadID, model.RatingFailed, err.Error()); serr != nil {
			return serr
		}
		log.Warn("rating failed permanently",
			zap.Int("attempt", attemptNum),
			zap.Error(err))
		p.enqueueNext(ctx, model.StageEnrich, leadID)
		return queue.NoRetry(err)
	}

	if err := p.store.SetRatingResult(ctx, leadID, score.Label, score.Suggestion, score.Reasoning); err != nil {
		return err
	}
	log.Info("lead rated", zap.String("label", score.Label))
	p.enqueueNext(ctx, model.StageEnrich, leadID)
	return nil
}
