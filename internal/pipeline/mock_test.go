package pipeline

import (
	"context"
	"sync"

	"github.com/sells-group/leadscout/internal/model"
)

type mockScorer struct {
	configured bool
	fn         func(lead *model.Lead) (*Score, error)
	calls      int
}

func (m *mockScorer) Configured() bool { return m.configured }

func (m *mockScorer) ScoreLead(ctx context.Context, lead *model.Lead) (*Score, error) {
	m.calls++
	return m.fn(lead)
}

type mockEnricher struct {
	domain     string
	domainErr  error
	contacts   []model.Contact
	contactErr error
}

func (m *mockEnricher) ResolveDomain(ctx context.Context, lead *model.Lead) (string, error) {
	return m.domain, m.domainErr
}

func (m *mockEnricher) FindContacts(ctx context.Context, domain string) ([]model.Contact, error) {
	return m.contacts, m.contactErr
}

type mockCRM struct {
	crmID string
	err   error
	calls int
	last  *model.Lead
}

func (m *mockCRM) SyncLead(ctx context.Context, lead *model.Lead, contacts []model.Contact) (string, error) {
	m.calls++
	m.last = lead
	if m.err != nil {
		return "", m.err
	}
	return m.crmID, nil
}

type stageRecorder struct {
	mu     sync.Mutex
	staged map[model.Stage][]string
}

func (r *stageRecorder) EnqueueCrawl(ctx context.Context, taskID string, critical bool) error {
	return nil
}

func (r *stageRecorder) EnqueueStage(ctx context.Context, stage model.Stage, leadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staged == nil {
		r.staged = make(map[model.Stage][]string)
	}
	r.staged[stage] = append(r.staged[stage], leadID)
	return nil
}

func (r *stageRecorder) stagedFor(stage model.Stage) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.staged[stage]
}
