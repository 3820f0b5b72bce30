package pii

import "strings"

// ExtractBatches splits an append-only text buffer into detection batches and
// an unconsumed remainder.
//
// A line counts as complete only once the next line has started, so the
// final newline-terminated line stays in the remainder until more text
// arrives or the caller flushes it. Lines longer than maxBatchChars are
// chunked into maxBatchChars-sized pieces; the newline stays on the piece
// that was originally line-final. A buffer with no newline at all is held
// until it reaches maxBatchChars, then emitted in forced chunks to bound
// memory.
//
// The concatenation of all returned batches plus the remainder always equals
// the input buffer.
func ExtractBatches(buffer string, maxBatchChars int) (batches []string, remaining string) {
	if buffer == "" {
		return nil, ""
	}
	if maxBatchChars <= 0 {
		maxBatchChars = 2000
	}

	// Last newline with at least one character after it marks the completed
	// region.
	cut := strings.LastIndex(buffer[:len(buffer)-1], "\n")
	if cut < 0 {
		if strings.HasSuffix(buffer, "\n") {
			// Single complete line, nothing following it yet
			return nil, buffer
		}
		// No newline at all: force out full-size chunks only
		for len(buffer) >= maxBatchChars {
			batches = append(batches, buffer[:maxBatchChars])
			buffer = buffer[maxBatchChars:]
		}
		return batches, buffer
	}

	completed := buffer[:cut+1]
	remaining = buffer[cut+1:]

	lines := strings.SplitAfter(completed, "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		for len(line) > maxBatchChars {
			batches = append(batches, line[:maxBatchChars])
			line = line[maxBatchChars:]
		}
		batches = append(batches, line)
	}

	return batches, remaining
}
