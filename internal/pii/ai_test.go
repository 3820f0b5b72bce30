package pii

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/liliang-cn/veilchat/internal/domain"
)

type fakeCompleter struct {
	reply string
	err   error

	gotModel  string
	gotSystem string
	gotUser   string
}

func (f *fakeCompleter) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	f.gotModel = model
	f.gotSystem = systemPrompt
	f.gotUser = userPrompt
	return f.reply, f.err
}

func newTestAIDetector(client ChatCompleter, enabled ...domain.PIIType) *AIDetector {
	if enabled == nil {
		enabled = []domain.PIIType{domain.PIITypeName, domain.PIITypeAddress}
	}
	return NewAIDetector(client, "gpt-4o-mini", enabled, time.Second, zap.NewNop())
}

func TestAIDetector_ResolvesSpans(t *testing.T) {
	text := "My name is John Smith and I live at 5 Oak Lane."
	client := &fakeCompleter{reply: `[
		{"piiType": "name", "value": "John Smith", "confidence": 0.9},
		{"piiType": "address", "value": "5 Oak Lane", "confidence": 0.8}
	]`}

	res := newTestAIDetector(client).DetectPII(context.Background(), text, RequestMeta{})
	if !res.Success {
		t.Fatalf("detection failed: %v", res.Err)
	}
	if len(res.Detections) != 2 {
		t.Fatalf("expected 2 detections, got %+v", res.Detections)
	}

	name := res.Detections[0]
	if got := text[name.StartOffset:name.EndOffset]; got != "John Smith" {
		t.Errorf("name span resolves to %q", got)
	}
	if name.PIIType != domain.PIITypeName || name.Confidence != 0.9 {
		t.Errorf("unexpected name detection %+v", name)
	}
	addr := res.Detections[1]
	if got := text[addr.StartOffset:addr.EndOffset]; got != "5 Oak Lane" {
		t.Errorf("address span resolves to %q", got)
	}
	if client.gotModel != "gpt-4o-mini" {
		t.Errorf("model = %q", client.gotModel)
	}
	if !strings.Contains(client.gotSystem, "name, address") {
		t.Errorf("system prompt missing enabled types: %q", client.gotSystem)
	}
}

func TestAIDetector_StripsCodeFence(t *testing.T) {
	text := "I am Jane Doe"
	client := &fakeCompleter{reply: "```json\n[{\"piiType\": \"name\", \"value\": \"Jane Doe\"}]\n```"}

	res := newTestAIDetector(client).DetectPII(context.Background(), text, RequestMeta{})
	if !res.Success || len(res.Detections) != 1 {
		t.Fatalf("expected 1 detection, got %+v (err %v)", res.Detections, res.Err)
	}
	// Missing confidence defaults to 0.5
	if res.Detections[0].Confidence != 0.5 {
		t.Errorf("default confidence = %v", res.Detections[0].Confidence)
	}
}

func TestAIDetector_DuplicateValuesGetDistinctSpans(t *testing.T) {
	text := "John called John back."
	client := &fakeCompleter{reply: `[
		{"piiType": "name", "value": "John", "confidence": 1},
		{"piiType": "name", "value": "John", "confidence": 1}
	]`}

	res := newTestAIDetector(client).DetectPII(context.Background(), text, RequestMeta{})
	if len(res.Detections) != 2 {
		t.Fatalf("expected 2 detections, got %+v", res.Detections)
	}
	first, second := res.Detections[0], res.Detections[1]
	if first.StartOffset != 0 || first.EndOffset != 4 {
		t.Errorf("first span [%d,%d)", first.StartOffset, first.EndOffset)
	}
	if second.StartOffset != strings.LastIndex(text, "John") {
		t.Errorf("second span starts at %d", second.StartOffset)
	}
}

func TestAIDetector_SkipsNonConformingFindings(t *testing.T) {
	text := "John sent an email"
	client := &fakeCompleter{reply: `[
		{"piiType": "passport", "value": "John"},
		{"piiType": "name", "value": ""},
		{"piiType": "name", "value": "Robert"},
		{"piiType": "name", "value": "John", "confidence": 7.5}
	]`}

	res := newTestAIDetector(client).DetectPII(context.Background(), text, RequestMeta{})
	if !res.Success {
		t.Fatalf("detection failed: %v", res.Err)
	}
	// Unknown type, empty value, and unlocatable value are all dropped; the
	// out-of-range confidence is clamped, not dropped.
	if len(res.Detections) != 1 {
		t.Fatalf("expected 1 detection, got %+v", res.Detections)
	}
	if res.Detections[0].Confidence != 1.0 {
		t.Errorf("confidence not clamped: %v", res.Detections[0].Confidence)
	}
}

func TestAIDetector_ProviderErrorDegrades(t *testing.T) {
	client := &fakeCompleter{err: errors.New("upstream timeout")}
	res := newTestAIDetector(client).DetectPII(context.Background(), "some text", RequestMeta{UserID: "u1"})
	if res.Success {
		t.Error("expected Success=false")
	}
	if res.Err == nil || len(res.Detections) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestAIDetector_MalformedJSONDegrades(t *testing.T) {
	client := &fakeCompleter{reply: "Sure! Here are the findings: none."}
	res := newTestAIDetector(client).DetectPII(context.Background(), "some text", RequestMeta{})
	if res.Success || res.Err == nil {
		t.Errorf("expected failure on malformed output, got %+v", res)
	}
}

func TestAIDetector_EmptyTextShortCircuits(t *testing.T) {
	client := &fakeCompleter{reply: "[]"}
	res := newTestAIDetector(client).DetectPII(context.Background(), "", RequestMeta{})
	if !res.Success || len(res.Detections) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if client.gotUser != "" {
		t.Error("provider called for empty text")
	}
}
