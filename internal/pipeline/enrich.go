package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/queue"
	"github.com/sells-group/leadscout/internal/resilience"
)

// Enrich resolves the lead's domain and discovers contacts. The CRM hand-off
// at the end is unconditional: an enrichment failure marks the axis failed
// but never strands the lead short of the CRM.
func (p *Pipeline) Enrich(ctx context.Context, leadID string, attemptNum int) error {
	log := p.log.With(zap.String("lead_id", leadID), zap.String("stage", "enrich"))

	lead, ok, err := p.getLead(ctx, leadID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if lead.EnrichStatus != model.EnrichPending {
		log.Debug("lead already enriched, skipping",
			zap.String("status", string(lead.EnrichStatus)))
		return nil
	}

	if p.enricher == nil {
		if err := p.store.SetEnrichStatus(ctx, leadID, model.EnrichSkipped, ""); err != nil {
			return err
		}
		p.enqueueNext(ctx, model.StageCRMSync, leadID)
		return nil
	}

	enrichErr := p.enrichLead(ctx, lead, log)
	if enrichErr != nil {
		decision := p.policy.Decide(enrichErr, attemptNum)
		if decision.Retry {
			log.Warn("enrichment failed, will retry",
				zap.Int("attempt", attemptNum),
				zap.Error(enrichErr))
			return enrichErr
		}

		if err := p.store.SetEnrichStatus(ctx, leadID, model.EnrichFailed, enrichErr.Error()); err != nil {
			return err
		}
		log.Warn("enrichment failed permanently",
			zap.Int("attempt", attemptNum),
			zap.Error(enrichErr))
		p.enqueueNext(ctx, model.StageCRMSync, leadID)
		return queue.NoRetry(enrichErr)
	}

	if err := p.store.SetEnrichStatus(ctx, leadID, model.EnrichEnriched, ""); err != nil {
		return err
	}
	p.enqueueNext(ctx, model.StageCRMSync, leadID)
	return nil
}

func (p *Pipeline) enrichLead(ctx context.Context, lead *model.Lead, log *zap.Logger) error {
	domain := lead.Domain
	if domain == "" {
		resolved, err := p.enricher.ResolveDomain(ctx, lead)
		if err != nil {
			return err
		}
		domain = resolved
		if domain != "" {
			if err := p.store.SetLeadDomain(ctx, lead.ID, domain); err != nil {
				return err
			}
		}
	}
	if domain == "" {
		// No resolvable domain is a permanent enrichment failure; the
		// caller records it on the axis and still hands off to CRM sync.
		return resilience.NewPermanentError(eris.New("pipeline: no resolvable domain"))
	}

	contacts, err := p.enricher.FindContacts(ctx, domain)
	if err != nil {
		return err
	}
	if len(contacts) > 0 {
		if err := p.store.AddContacts(ctx, lead.ID, contacts); err != nil {
			return err
		}
		log.Info("contacts discovered",
			zap.String("domain", domain),
			zap.Int("contacts", len(contacts)))
	}
	return nil
}
