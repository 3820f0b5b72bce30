package pii

import "github.com/liliang-cn/veilchat/internal/domain"

// MaskChar is the replacement byte for masked spans
const MaskChar = '*'

// MaskText applies length-preserving redaction: every byte inside a
// detection span is replaced with MaskChar. Used for log redaction and
// fallback server-side masking; the primary client feed receives plain
// content plus separate mask events. Spans with invalid offsets are skipped.
// len(MaskText(text, d)) == len(text) always holds.
func MaskText(text string, detections []domain.Detection) string {
	if len(detections) == 0 {
		return text
	}

	out := []byte(text)
	for _, d := range detections {
		if d.StartOffset < 0 || d.EndOffset > len(out) || d.StartOffset >= d.EndOffset {
			continue
		}
		for i := d.StartOffset; i < d.EndOffset; i++ {
			out[i] = MaskChar
		}
	}
	return string(out)
}
