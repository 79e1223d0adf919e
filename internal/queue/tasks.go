// Package queue is the asynq-backed transport between the submitter, the
// crawl orchestrator, and the lead pipeline stages. Delivery is at least
// once; every handler claims its row in the store before doing work.
package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
)

// Task kinds routed through the queue.
const (
	TypeCrawlRun    = "crawl:run"
	TypeLeadRate    = "lead:rate"
	TypeLeadEnrich  = "lead:enrich"
	TypeLeadCRMSync = "lead:crmsync"
)

// Queue names. Crawl tasks get a dedicated queue consumed by a single
// worker, so only one geographic crawl runs at a time. Recovered tasks are
// re-enqueued on critical so they run before new submissions.
const (
	QueueCrawl         = "crawl"
	QueueCrawlCritical = "crawl_critical"
	QueueDefault       = "default"
	QueueLow           = "low"
)

// CrawlPayload identifies the task a crawl message executes.
type CrawlPayload struct {
	TaskID string `json:"task_id"`
}

// LeadPayload identifies the lead a pipeline stage message processes.
type LeadPayload struct {
	LeadID string `json:"lead_id"`
}

// Per-kind execution deadlines. A geographic crawl legitimately runs for
// hours; the pipeline stages are single API calls.
const (
	crawlTimeout   = 4 * time.Hour
	ratingTimeout  = 3 * time.Minute
	enrichTimeout  = 10 * time.Minute
	crmSyncTimeout = 2 * time.Minute
)

func newTask(kind string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: marshal %s payload", kind)
	}
	return asynq.NewTask(kind, data, opts...), nil
}

// NoRetry marks err so the transport archives the message instead of
// retrying it. Handlers use it after the retry policy rules an error
// permanent or the attempts are exhausted.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(err, asynq.SkipRetry)
}

// UnmarshalCrawlPayload decodes a crawl message.
func UnmarshalCrawlPayload(data []byte) (*CrawlPayload, error) {
	var p CrawlPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "queue: unmarshal crawl payload")
	}
	if p.TaskID == "" {
		return nil, eris.New("queue: crawl payload missing task id")
	}
	return &p, nil
}

// UnmarshalLeadPayload decodes a lead stage message.
func UnmarshalLeadPayload(data []byte) (*LeadPayload, error) {
	var p LeadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "queue: unmarshal lead payload")
	}
	if p.LeadID == "" {
		return nil, eris.New("queue: lead payload missing lead id")
	}
	return &p, nil
}
