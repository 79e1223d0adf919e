package queue

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/resilience"
)

// Enqueuer is the producer side of the queue. The submitter, the recovery
// manager, the crawler, and the pipeline stages all talk to it.
type Enqueuer interface {
	EnqueueCrawl(ctx context.Context, taskID string, critical bool) error
	EnqueueStage(ctx context.Context, stage model.Stage, leadID string) error
}

// Client wraps asynq.Client with the routing and retry policy of each task
// kind.
type Client struct {
	client *asynq.Client
	policy resilience.Policy
}

// NewClient creates a queue client for the given Redis connection.
func NewClient(redisOpt asynq.RedisClientOpt) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		policy: resilience.DefaultPolicy(),
	}
}

// EnqueueCrawl enqueues a crawl message for a task. Recovered tasks go to
// the critical crawl queue so they resume before new work starts.
func (c *Client) EnqueueCrawl(ctx context.Context, taskID string, critical bool) error {
	q := QueueCrawl
	if critical {
		q = QueueCrawlCritical
	}
	task, err := newTask(TypeCrawlRun, CrawlPayload{TaskID: taskID},
		asynq.Queue(q),
		asynq.Timeout(crawlTimeout),
		asynq.MaxRetry(c.policy.MaxAttempts-1),
	)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return eris.Wrapf(err, "queue: enqueue crawl for task %s", taskID)
	}
	return nil
}

// EnqueueStage enqueues a pipeline stage message for a lead.
func (c *Client) EnqueueStage(ctx context.Context, stage model.Stage, leadID string) error {
	var kind, q string
	var timeout = ratingTimeout
	switch stage {
	case model.StageRating:
		kind, q = TypeLeadRate, QueueDefault
	case model.StageEnrich:
		kind, q, timeout = TypeLeadEnrich, QueueDefault, enrichTimeout
	case model.StageCRMSync:
		kind, q, timeout = TypeLeadCRMSync, QueueLow, crmSyncTimeout
	default:
		return eris.Errorf("queue: unknown stage %q", stage)
	}

	task, err := newTask(kind, LeadPayload{LeadID: leadID},
		asynq.Queue(q),
		asynq.Timeout(timeout),
		asynq.MaxRetry(c.policy.MaxAttempts-1),
	)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return eris.Wrapf(err, "queue: enqueue %s for lead %s", kind, leadID)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

var _ Enqueuer = (*Client)(nil)
