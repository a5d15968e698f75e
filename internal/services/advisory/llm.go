package advisory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/internal/domain/service"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const reviewerSystemPrompt = "You are the risk reviewer for a crypto treasury. " +
	"You approve or reject proposed rebalancing plans. Be conservative: reject when in doubt."

type LLMConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
}

// LLMReviewer asks Claude to review the plan and parses its
// DECISION/REASONING/CONFIDENCE answer.
type LLMReviewer struct {
	client anthropic.Client
	cfg    LLMConfig
	now    func() time.Time
}

var _ service.AdvisoryReviewer = (*LLMReviewer)(nil)

func NewLLMReviewer(cfg LLMConfig) *LLMReviewer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &LLMReviewer{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		now:    time.Now,
	}
}

func (r *LLMReviewer) Name() string { return "llm:" + r.cfg.Model }

func (r *LLMReviewer) Review(ctx context.Context, req models.AdvisoryRequest) (models.AdvisoryVerdict, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.cfg.Model),
		MaxTokens: int64(r.cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(req))),
		},
		System: []anthropic.TextBlockParam{{Text: reviewerSystemPrompt}},
	}
	if r.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(r.cfg.Temperature)
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return models.AdvisoryVerdict{}, fmt.Errorf("messages api: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	v, err := ParseVerdict(text.String())
	if err != nil {
		return models.AdvisoryVerdict{}, err
	}
	v.Reviewer = r.Name()
	v.ReviewedAt = r.now()
	return v, nil
}

// BuildPrompt renders the plan, current and proposed allocation and market
// context for the reviewer.
func BuildPrompt(req models.AdvisoryRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing a proposed rebalancing of a $%s treasury.\n\n", req.Plan.TotalValue.StringFixed(0))
	fmt.Fprintf(&b, "PROPOSED REBALANCING:\nReason: %s\nDetail: %s\nSignal: %s\n\n", req.Reason, req.Detail, req.Signal.Reasoning)

	buckets := req.Portfolio.Actual.Buckets(req.Signal.Target)
	b.WriteString("ALLOCATION (current -> proposed, USD delta):\n")
	for _, bk := range buckets {
		fmt.Fprintf(&b, "- %s: %.1f%% -> %.1f%% (%s)\n",
			bk, req.Portfolio.Actual[bk]*100, req.Signal.Target[bk]*100, req.Plan.Deltas[bk].StringFixed(2))
	}

	b.WriteString("\nCURRENT MARKET:\n")
	if ratio, ok := req.Snapshot.Ratio(); ok {
		fmt.Fprintf(&b, "- MVRV: %.2f (%s)\n", ratio, req.Signal.Phase)
	} else {
		b.WriteString("- MVRV: unavailable\n")
	}
	for _, a := range []models.Asset{models.AssetBTC, models.AssetETH} {
		if p, ok := req.Snapshot.Price(a); ok {
			fmt.Fprintf(&b, "- %s: $%s\n", a, p.StringFixed(2))
		}
	}
	if s, ok := req.Snapshot.SentimentIndex(); ok {
		fmt.Fprintf(&b, "- Fear & Greed: %d\n", s)
	}
	if f, ok := req.Snapshot.FundingRates[models.AssetBTC]; ok {
		fmt.Fprintf(&b, "- BTC funding: %.4f%%\n", f)
	}
	if req.Snapshot.Degraded {
		b.WriteString("- WARNING: more than half of the market data sources are stale or missing\n")
	}
	fmt.Fprintf(&b, "- Signal confidence: %.0f%%\n", req.Signal.Confidence*100)

	tactical := req.Signal.Target[models.BucketBTC] + req.Signal.Target[models.BucketETH]
	fmt.Fprintf(&b, "\nRISK CHECKS:\n- Proposed volatile allocation: %.1f%% (max 40%%)\n\n", tactical*100)

	b.WriteString("Reject if the volatile allocation exceeds 40%, if market data is uncertain, or if timing seems wrong.\n\n")
	b.WriteString("Format response EXACTLY as:\nDECISION: [APPROVE or REJECT]\nREASONING: [2-3 sentences]\nCONFIDENCE: [number 0-100]\n")
	return b.String()
}

// ParseVerdict reads the three labelled lines of a reviewer answer. Missing or
// malformed lines are an error.
func ParseVerdict(text string) (models.AdvisoryVerdict, error) {
	var decision, reasoning, confidence string
	var haveDecision, haveReasoning, haveConfidence bool

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "DECISION:"):
			decision, haveDecision = field(line, "DECISION:"), true
		case strings.HasPrefix(line, "REASONING:"):
			reasoning, haveReasoning = field(line, "REASONING:"), true
		case strings.HasPrefix(line, "CONFIDENCE:"):
			confidence, haveConfidence = field(line, "CONFIDENCE:"), true
		}
	}
	if !haveDecision || !haveReasoning || !haveConfidence {
		return models.AdvisoryVerdict{}, errors.New("reviewer answer missing DECISION, REASONING or CONFIDENCE")
	}

	var approved bool
	switch strings.ToUpper(decision) {
	case "APPROVE", "APPROVED":
		approved = true
	case "REJECT", "REJECTED":
	default:
		return models.AdvisoryVerdict{}, fmt.Errorf("unrecognised decision %q", decision)
	}

	pct, err := strconv.ParseFloat(strings.TrimSuffix(confidence, "%"), 64)
	if err != nil {
		return models.AdvisoryVerdict{}, fmt.Errorf("parse confidence %q: %w", confidence, err)
	}
	if pct < 0 || pct > 100 {
		return models.AdvisoryVerdict{}, fmt.Errorf("confidence %v outside 0-100", pct)
	}

	return models.AdvisoryVerdict{Approved: approved, Confidence: pct / 100, Reasoning: reasoning}, nil
}

func field(line, label string) string {
	v := strings.TrimSpace(strings.TrimPrefix(line, label))
	return strings.TrimSpace(strings.Trim(v, "[]*"))
}
