package pii

import (
	"strings"
	"testing"
)

func TestExtractBatches_HoldsFinalLine(t *testing.T) {
	batches, remaining := ExtractBatches("line1\nPII_LINE\nline3\n", 2000)

	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %q", batches)
	}
	if batches[0] != "line1\n" || batches[1] != "PII_LINE\n" {
		t.Errorf("unexpected batches %q", batches)
	}
	if remaining != "line3\n" {
		t.Errorf("expected remaining %q, got %q", "line3\n", remaining)
	}
}

func TestExtractBatches_NoNewlineAccumulates(t *testing.T) {
	batches, remaining := ExtractBatches("partial text without newline", 2000)

	if len(batches) != 0 {
		t.Errorf("expected no batches, got %q", batches)
	}
	if remaining != "partial text without newline" {
		t.Errorf("buffer not preserved: %q", remaining)
	}
}

func TestExtractBatches_ForcedBatchWithoutNewline(t *testing.T) {
	input := strings.Repeat("x", 25)
	batches, remaining := ExtractBatches(input, 10)

	if len(batches) != 2 {
		t.Fatalf("expected 2 forced batches, got %q", batches)
	}
	for _, b := range batches {
		if len(b) != 10 {
			t.Errorf("forced batch has length %d", len(b))
		}
	}
	if remaining != strings.Repeat("x", 5) {
		t.Errorf("unexpected remaining %q", remaining)
	}
}

func TestExtractBatches_OversizeLineChunked(t *testing.T) {
	line := strings.Repeat("a", 23) + "\n"
	input := line + "next"
	batches, remaining := ExtractBatches(input, 10)

	if remaining != "next" {
		t.Errorf("unexpected remaining %q", remaining)
	}
	if got := strings.Join(batches, ""); got != line {
		t.Errorf("batches lose data: %q", got)
	}
	// The newline marker stays on the final piece of the chunked line
	last := batches[len(batches)-1]
	if !strings.HasSuffix(last, "\n") {
		t.Errorf("final piece lost its newline: %q", last)
	}
	for _, b := range batches[:len(batches)-1] {
		if strings.Contains(b, "\n") {
			t.Errorf("non-final piece contains newline: %q", b)
		}
	}
}

func TestExtractBatches_SingleCompleteLineHeld(t *testing.T) {
	batches, remaining := ExtractBatches("only line\n", 2000)
	if len(batches) != 0 || remaining != "only line\n" {
		t.Errorf("got batches %q remaining %q", batches, remaining)
	}
}

func TestExtractBatches_Empty(t *testing.T) {
	batches, remaining := ExtractBatches("", 2000)
	if len(batches) != 0 || remaining != "" {
		t.Errorf("got batches %q remaining %q", batches, remaining)
	}
}

// Liveness: streaming characters through the extractor loses no data; the
// concatenation of every emitted batch plus the final remainder equals the
// full input.
func TestExtractBatches_Liveness(t *testing.T) {
	const k = 7
	var input strings.Builder
	for i := 0; i < 200; i++ {
		input.WriteByte(byte('a' + i%26))
		if i%k == k-1 {
			input.WriteByte('\n')
		}
	}
	full := input.String()

	var emitted strings.Builder
	buffer := ""
	for _, ch := range []byte(full) {
		buffer += string(ch)
		batches, remaining := ExtractBatches(buffer, 16)
		for _, b := range batches {
			emitted.WriteString(b)
		}
		buffer = remaining
	}

	if emitted.String()+buffer != full {
		t.Errorf("data loss: emitted %d + remaining %d != input %d",
			emitted.Len(), len(buffer), len(full))
	}
	if len(buffer) > 16+k {
		t.Errorf("buffer not drained, %d bytes held", len(buffer))
	}
}
