package pii

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/liliang-cn/veilchat/internal/domain"
)

// ChatCompleter is the one-shot completion capability the AI detector needs
// from the provider
type ChatCompleter interface {
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// Result is the outcome of one AI detection call. A failed call carries
// Success=false and an empty detection list; the detector never returns a Go
// error because a detection failure must not interrupt the content stream.
type Result struct {
	Detections []domain.Detection
	Success    bool
	Err        error
}

// RequestMeta identifies the request a detection batch belongs to, for
// logging and usage tracking
type RequestMeta struct {
	UserID         string
	ConversationID string
}

// aiFinding is the strict schema for one item of the model's JSON output
type aiFinding struct {
	PIIType    string   `json:"piiType"`
	Value      string   `json:"value"`
	Confidence *float64 `json:"confidence"`
}

// AIDetector finds semantic PII (names, addresses, and anything the regex
// rules cannot express) by asking a completion model for a JSON list of
// findings, then resolving each finding's value back to an offset span.
type AIDetector struct {
	client  ChatCompleter
	model   string
	enabled []domain.PIIType
	timeout time.Duration
	logger  *zap.Logger
}

// NewAIDetector creates an AI detector
func NewAIDetector(client ChatCompleter, model string, enabled []domain.PIIType, timeout time.Duration, logger *zap.Logger) *AIDetector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AIDetector{
		client:  client,
		model:   model,
		enabled: enabled,
		timeout: timeout,
		logger:  logger,
	}
}

// DetectPII runs one detection call over text. Any failure (timeout,
// provider error, malformed JSON) degrades to an unsuccessful empty Result.
func (d *AIDetector) DetectPII(ctx context.Context, text string, meta RequestMeta) Result {
	if text == "" || d.client == nil {
		return Result{Success: true}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	raw, err := d.client.Complete(ctx, d.model, d.systemPrompt(), text)
	if err != nil {
		d.logger.Warn("pii detection call failed",
			zap.String("user_id", meta.UserID),
			zap.String("conversation_id", meta.ConversationID),
			zap.Error(err),
		)
		return Result{Success: false, Err: err}
	}

	findings, err := parseFindings(raw)
	if err != nil {
		d.logger.Warn("pii detection returned malformed output",
			zap.String("user_id", meta.UserID),
			zap.String("conversation_id", meta.ConversationID),
			zap.Error(err),
		)
		return Result{Success: false, Err: err}
	}

	return Result{Detections: d.resolveSpans(text, findings), Success: true}
}

func (d *AIDetector) systemPrompt() string {
	names := make([]string, len(d.enabled))
	for i, t := range d.enabled {
		names[i] = string(t)
	}
	return fmt.Sprintf(`You are a PII detection system. Find all personally identifiable information in the user's text.
Respond with ONLY a JSON array, no prose. Each element: {"piiType": "<type>", "value": "<exact text found>", "confidence": <0.0-1.0>}.
Allowed piiType values: %s.
"value" must be copied verbatim from the text. Respond with [] if nothing is found.`, strings.Join(names, ", "))
}

// parseFindings strips an optional wrapping code fence and decodes the
// model's JSON array
func parseFindings(raw string) ([]aiFinding, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	var findings []aiFinding
	if err := json.Unmarshal([]byte(s), &findings); err != nil {
		return nil, fmt.Errorf("decode detection output: %w", err)
	}
	return findings, nil
}

// resolveSpans turns offset-less findings into exact spans by locating the
// first occurrence of each value that does not overlap an already-assigned
// span. Unresolvable or non-conforming items are skipped.
func (d *AIDetector) resolveSpans(text string, findings []aiFinding) []domain.Detection {
	allowed := make(map[domain.PIIType]bool, len(d.enabled))
	for _, t := range d.enabled {
		allowed[t] = true
	}

	var detections []domain.Detection
	for _, f := range findings {
		piiType := domain.PIIType(strings.ToLower(strings.TrimSpace(f.PIIType)))
		if !allowed[piiType] || f.Value == "" {
			continue
		}

		confidence := 0.5
		if f.Confidence != nil && !math.IsNaN(*f.Confidence) {
			confidence = math.Min(1.0, math.Max(0.0, *f.Confidence))
		}

		det, ok := locateSpan(text, f.Value, detections)
		if !ok {
			d.logger.Debug("pii finding not locatable, skipping",
				zap.String("pii_type", string(piiType)))
			continue
		}
		det.PIIType = piiType
		det.Placeholder = piiType.Placeholder()
		det.Confidence = confidence
		detections = append(detections, det)
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].StartOffset < detections[j].StartOffset
	})
	return detections
}

// locateSpan finds the first occurrence of value in text whose span does not
// overlap any assigned span, scanning left to right and advancing one byte
// past each rejected occurrence
func locateSpan(text, value string, assigned []domain.Detection) (domain.Detection, bool) {
	from := 0
	for from <= len(text)-len(value) {
		idx := strings.Index(text[from:], value)
		if idx < 0 {
			break
		}
		start := from + idx
		candidate := domain.Detection{StartOffset: start, EndOffset: start + len(value)}
		if !overlapsAny(candidate, assigned) {
			return candidate, true
		}
		from = start + 1
	}
	return domain.Detection{}, false
}
