package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
)

// Rearm moves failed leads of a stage back to pending and re-enqueues them.
// For the rating stage this also picks up leads parked in pending_config.
// An empty id list re-arms everything eligible. Returns the ids re-armed.
func (p *Pipeline) Rearm(ctx context.Context, stage model.Stage, ids []string) ([]string, error) {
	rearmed, err := p.store.RearmLeads(ctx, stage, ids)
	if err != nil {
		return nil, err
	}

	for _, id := range rearmed {
		if err := p.enqueuer.EnqueueStage(ctx, stage, id); err != nil {
			// The status is already pending; the lead is found again by the
			// next re-arm.
			p.log.Error("re-arm enqueue failed",
				zap.String("lead_id", id),
				zap.Error(err))
		}
	}

	p.log.Info("leads re-armed",
		zap.String("stage", string(stage)),
		zap.Int("count", len(rearmed)))
	return rearmed, nil
}
