// Package scorer rates lead fit with a Claude model against an operator-
// supplied rubric.
package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/pipeline"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/pkg/anthropic"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 512
)

// Config tunes the lead scorer. An empty Rubric means no scoring rule is
// configured and leads park instead of failing.
type Config struct {
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	Rubric    string `yaml:"rubric" mapstructure:"rubric"`
}

// LeadScorer scores leads one at a time. The rubric is sent as a cached
// system block so repeated calls within a run hit the prompt cache.
type LeadScorer struct {
	client anthropic.Client
	cfg    Config
	log    *zap.Logger
}

// New creates a LeadScorer. A nil client leaves the scorer unconfigured.
func New(client anthropic.Client, cfg Config) *LeadScorer {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &LeadScorer{
		client: client,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "scorer")),
	}
}

// Configured reports whether a model client and rubric are both present.
func (s *LeadScorer) Configured() bool {
	return s.client != nil && strings.TrimSpace(s.cfg.Rubric) != ""
}

const responseContract = `Respond with a single JSON object:
{"label": "...", "suggestion": "...", "reasoning": "..."}
- label: one short classification per the rubric (e.g. "hot", "warm", "cold")
- suggestion: one sentence on how to approach this lead
- reasoning: brief justification, two sentences at most`

// ScoreLead rates one lead. API failures come back classified so the retry
// policy can distinguish a rate limit from a malformed rubric.
func (s *LeadScorer) ScoreLead(ctx context.Context, lead *model.Lead) (*pipeline.Score, error) {
	system := s.cfg.Rubric + "\n\n" + responseContract

	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(system),
		Messages: []anthropic.Message{
			{Role: "user", Content: leadContext(lead)},
		},
	})
	if err != nil {
		return nil, classifyAPIError(eris.Wrap(err, "scorer: create message"))
	}

	resp.Usage.LogCost(s.cfg.Model, "rating")

	text := extractResponseText(resp)
	if text == "" {
		return nil, resilience.NewPermanentError(eris.New("scorer: empty model response"))
	}

	var score pipeline.Score
	if err := json.Unmarshal([]byte(cleanJSONFromText(text)), &score); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "scorer: parse model response"))
	}
	if score.Label == "" {
		return nil, resilience.NewPermanentError(eris.New("scorer: response missing label"))
	}

	s.log.Debug("lead scored",
		zap.String("lead_id", lead.ID),
		zap.String("label", score.Label))
	return &score, nil
}

// classifyAPIError sorts a CreateMessage failure for the retry policy.
// Rate limits and server errors are worth retrying; request-validation
// rejections come back the same every time, so they fail the lead outright.
// Errors with no HTTP status never reached the API and count as transient.
func classifyAPIError(err error) error {
	code := anthropic.StatusCode(err)
	if code == 0 || resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(err, code)
	}
	return resilience.NewPermanentError(err)
}

// leadContext renders the lead fields the model should consider.
func leadContext(lead *model.Lead) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Business name: %s\n", lead.Name)
	if lead.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", lead.Category)
	}
	if lead.Address != "" {
		fmt.Fprintf(&sb, "Address: %s\n", lead.Address)
	}
	if lead.Website != "" {
		fmt.Fprintf(&sb, "Website: %s\n", lead.Website)
	}
	if lead.Phone != "" {
		fmt.Fprintf(&sb, "Phone: %s\n", lead.Phone)
	}
	if lead.ReviewCount > 0 {
		fmt.Fprintf(&sb, "Rating: %.1f stars across %d reviews\n", lead.Rating, lead.ReviewCount)
	}
	return sb.String()
}

func extractResponseText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "" || b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// cleanJSONFromText extracts a JSON object from text that may carry markdown
// code fences or surrounding prose.
func cleanJSONFromText(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
