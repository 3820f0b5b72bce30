package pii

import (
	"strings"
	"testing"

	"github.com/liliang-cn/veilchat/internal/domain"
)

func TestMaskText(t *testing.T) {
	text := "My email is jdoe@example.com, call me"
	start := strings.Index(text, "jdoe")
	masked := MaskText(text, []domain.Detection{
		det(domain.PIITypeEmail, start, start+len("jdoe@example.com"), 1.0),
	})

	want := "My email is ****************, call me"
	if masked != want {
		t.Errorf("got %q, want %q", masked, want)
	}
	if len(masked) != len(text) {
		t.Errorf("length not preserved: %d != %d", len(masked), len(text))
	}
}

func TestMaskText_MultipleSpans(t *testing.T) {
	text := "a@x.io and b@y.io"
	masked := MaskText(text, []domain.Detection{
		det(domain.PIITypeEmail, 0, 6, 1.0),
		det(domain.PIITypeEmail, 11, 17, 1.0),
	})
	if masked != "****** and ******" {
		t.Errorf("got %q", masked)
	}
}

func TestMaskText_InvalidSpansSkipped(t *testing.T) {
	text := "short"
	masked := MaskText(text, []domain.Detection{
		det(domain.PIITypeEmail, -1, 3, 1.0),
		det(domain.PIITypeEmail, 2, 99, 1.0),
		det(domain.PIITypeEmail, 4, 4, 1.0),
	})
	if masked != text {
		t.Errorf("invalid spans altered text: %q", masked)
	}
}

func TestMaskText_NoDetections(t *testing.T) {
	if got := MaskText("unchanged", nil); got != "unchanged" {
		t.Errorf("got %q", got)
	}
}
