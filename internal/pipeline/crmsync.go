package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/queue"
)

// CRMSync pushes one lead into the CRM. This is the last stage; a synced
// lead is done, a failed one waits for a re-arm.
func (p *Pipeline) CRMSync(ctx context.Context, leadID string, attemptNum int) error {
	log := p.log.With(zap.String("lead_id", leadID), zap.String("stage", "crm_sync"))

	lead, ok, err := p.getLead(ctx, leadID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if p.crm == nil {
		log.Debug("no crm configured, leaving lead pending")
		return nil
	}

	claimed, err := p.store.ClaimLeadForCRM(ctx, leadID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug("lead not claimable, skipping",
			zap.String("status", string(lead.CRMSyncStatus)))
		return nil
	}

	contacts, err := p.store.ListContacts(ctx, leadID)
	if err != nil {
		return err
	}

	crmID, syncErr := p.crm.SyncLead(ctx, lead, contacts)
	if syncErr != nil {
		decision := p.policy.Decide(syncErr, attemptNum)
		if decision.Retry {
			if serr := p.store.SetCRMStatus(ctx, leadID, model.CRMPending, syncErr.Error()); serr != nil {
				return serr
			}
			log.Warn("crm sync failed, will retry",
				zap.Int("attempt", attemptNum),
				zap.Error(syncErr))
			return syncErr
		}

		if serr := p.store.SetCRMStatus(ctx, leadID, model.CRMFailed, syncErr.Error()); serr != nil {
			return serr
		}
		log.Warn("crm sync failed permanently",
			zap.Int("attempt", attemptNum),
			zap.Error(syncErr))
		return queue.NoRetry(syncErr)
	}

	if err := p.store.SetCRMSynced(ctx, leadID, crmID); err != nil {
		return err
	}
	log.Info("lead synced", zap.String("crm_id", crmID))
	return nil
}
