// Package pipeline runs the post-crawl lead stages: rating, enrichment,
// and CRM sync. The stages communicate only through the queue and the per-
// axis statuses on the lead row, so each can fail, retry, or be re-armed
// without disturbing the others.
package pipeline

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/queue"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/internal/store"
)

// Score is the outcome of rating one lead.
type Score struct {
	Label      string `json:"label"`
	Suggestion string `json:"suggestion"`
	Reasoning  string `json:"reasoning"`
}

// Scorer rates a lead's fit. Configured reports whether the backing model
// is usable; when it is not, leads park in pending_config instead of
// burning retries.
type Scorer interface {
	Configured() bool
	ScoreLead(ctx context.Context, lead *model.Lead) (*Score, error)
}

// Enricher resolves a lead's domain and discovers contacts.
type Enricher interface {
	ResolveDomain(ctx context.Context, lead *model.Lead) (string, error)
	FindContacts(ctx context.Context, domain string) ([]model.Contact, error)
}

// CRMSyncer pushes a lead into the CRM and returns the remote record id.
type CRMSyncer interface {
	SyncLead(ctx context.Context, lead *model.Lead, contacts []model.Contact) (string, error)
}

// Pipeline wires the three stages to their collaborators.
type Pipeline struct {
	store    store.LeadStore
	scorer   Scorer
	enricher Enricher
	crm      CRMSyncer
	enqueuer queue.Enqueuer
	policy   resilience.Policy
	log      *zap.Logger
}

// New creates a Pipeline.
func New(st store.LeadStore, scorer Scorer, enricher Enricher, crm CRMSyncer, enqueuer queue.Enqueuer) *Pipeline {
	return &Pipeline{
		store:    st,
		scorer:   scorer,
		enricher: enricher,
		crm:      crm,
		enqueuer: enqueuer,
		policy:   resilience.DefaultPolicy(),
		log:      zap.L().With(zap.String("component", "pipeline")),
	}
}

// attempt extracts the 1-based attempt number from the queue context.
func attempt(ctx context.Context) int {
	n, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 1
	}
	return n + 1
}

// HandleRate is the queue handler for lead rating messages.
func (p *Pipeline) HandleRate(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.UnmarshalLeadPayload(task.Payload())
	if err != nil {
		return queue.NoRetry(err)
	}
	return p.Rate(ctx, payload.LeadID, attempt(ctx))
}

// HandleEnrich is the queue handler for lead enrichment messages.
func (p *Pipeline) HandleEnrich(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.UnmarshalLeadPayload(task.Payload())
	if err != nil {
		return queue.NoRetry(err)
	}
	return p.Enrich(ctx, payload.LeadID, attempt(ctx))
}

// HandleCRMSync is the queue handler for CRM sync messages.
func (p *Pipeline) HandleCRMSync(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.UnmarshalLeadPayload(task.Payload())
	if err != nil {
		return queue.NoRetry(err)
	}
	return p.CRMSync(ctx, payload.LeadID, attempt(ctx))
}

// Register attaches the pipeline handlers to the queue server.
func (p *Pipeline) Register(srv *queue.Server) {
	srv.HandleStage(queue.TypeLeadRate, asynq.HandlerFunc(p.HandleRate))
	srv.HandleStage(queue.TypeLeadEnrich, asynq.HandlerFunc(p.HandleEnrich))
	srv.HandleStage(queue.TypeLeadCRMSync, asynq.HandlerFunc(p.HandleCRMSync))
}

// getLead loads a lead, translating absence into a drop: a missing row
// means the message is stale and retrying cannot help.
func (p *Pipeline) getLead(ctx context.Context, leadID string) (*model.Lead, bool, error) {
	lead, err := p.store.GetLead(ctx, leadID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			p.log.Warn("lead not found, dropping", zap.String("lead_id", leadID))
			return nil, false, nil
		}
		return nil, false, err
	}
	return lead, true, nil
}

// enqueueNext hands the lead to the next stage. A failure here is logged
// rather than propagated, because the current stage's outcome is already
// durable and the re-arm command can restitch the chain.
func (p *Pipeline) enqueueNext(ctx context.Context, stage model.Stage, leadID string) {
	if p.enqueuer == nil {
		return
	}
	if err := p.enqueuer.EnqueueStage(ctx, stage, leadID); err != nil {
		p.log.Error("next stage enqueue failed",
			zap.String("stage", string(stage)),
			zap.String("lead_id", leadID),
			zap.Error(err))
	}
}
