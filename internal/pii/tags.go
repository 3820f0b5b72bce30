package pii

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/liliang-cn/veilchat/internal/domain"
)

// Tag codec: the alternate persistence representation that embeds detection
// metadata directly in stored message content as
// <pii type=email id=... confidence=0.95>value</pii> markup, instead of
// relational detection rows.

// MaskRegion is one decoded tag region. StartOffset is the byte offset in
// the untagged text, not in the tagged string.
type MaskRegion struct {
	PIIType     domain.PIIType `json:"pii_type"`
	ID          string         `json:"id"`
	StartOffset int            `json:"start_offset"`
	Length      int            `json:"length"`
	Confidence  float64        `json:"confidence"`
}

// Detection converts a region into the offsets model
func (r MaskRegion) Detection() domain.Detection {
	return domain.Detection{
		PIIType:     r.PIIType,
		StartOffset: r.StartOffset,
		EndOffset:   r.StartOffset + r.Length,
		Placeholder: r.PIIType.Placeholder(),
		Confidence:  r.Confidence,
	}
}

var openTagRe = regexp.MustCompile(`<pii type=([a-z_]+) id=([A-Za-z0-9-]+)(?: confidence=([0-9]*\.?[0-9]+))?>`)

const closeTag = "</pii>"

// InsertTags embeds detections into content as pii tags. Detections are
// applied in descending StartOffset order so earlier insertions do not
// invalidate offsets still to be processed. The wrapped text is HTML-escaped
// (& < >); text outside tags is untouched. Detections with offsets invalid
// for the current content are logged and skipped.
func InsertTags(content string, detections []domain.Detection, logger *zap.Logger) string {
	if len(detections) == 0 {
		return content
	}

	ordered := make([]domain.Detection, len(detections))
	copy(ordered, detections)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StartOffset > ordered[j].StartOffset
	})

	for _, d := range ordered {
		if d.StartOffset < 0 || d.EndOffset > len(content) || d.StartOffset >= d.EndOffset {
			logger.Warn("skipping detection with invalid offsets",
				zap.Int("start", d.StartOffset),
				zap.Int("end", d.EndOffset),
				zap.Int("content_len", len(content)),
			)
			continue
		}
		open := fmt.Sprintf("<pii type=%s id=%s confidence=%.2f>", d.PIIType, uuid.New().String(), d.Confidence)
		content = content[:d.StartOffset] +
			open + escapeTagContent(content[d.StartOffset:d.EndOffset]) + closeTag +
			content[d.EndOffset:]
	}
	return content
}

// ParseTags is the inverse of InsertTags: it reconstructs the untagged text
// and reports each tagged region's offset within it. Malformed tag markup is
// passed through as literal text.
func ParseTags(taggedContent string) (text string, regions []MaskRegion) {
	var b strings.Builder
	rest := taggedContent

	for {
		loc := openTagRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			break
		}

		// Text before the tag is untouched by the codec
		b.WriteString(rest[:loc[0]])
		after := rest[loc[1]:]

		closeIdx := strings.Index(after, closeTag)
		if closeIdx < 0 {
			// Unterminated tag, keep it literal
			b.WriteString(rest[loc[0]:])
			break
		}

		piiType := domain.PIIType(rest[loc[2]:loc[3]])
		id := rest[loc[4]:loc[5]]
		confidence := 0.5
		if loc[6] >= 0 {
			if v, err := strconv.ParseFloat(rest[loc[6]:loc[7]], 64); err == nil {
				confidence = v
			}
		}

		value := unescapeTagContent(after[:closeIdx])
		regions = append(regions, MaskRegion{
			PIIType:     piiType,
			ID:          id,
			StartOffset: b.Len(),
			Length:      len(value),
			Confidence:  confidence,
		})
		b.WriteString(value)

		rest = after[closeIdx+len(closeTag):]
	}

	return b.String(), regions
}

// ValidateTags checks that open/close tag counts match and that no tag opens
// inside another tag's span
func ValidateTags(content string) (bool, []string) {
	var errs []string

	opens := openTagRe.FindAllStringIndex(content, -1)
	closeCount := strings.Count(content, closeTag)
	if len(opens) != closeCount {
		errs = append(errs, fmt.Sprintf("tag count mismatch: %d open, %d close", len(opens), closeCount))
	}

	depth := 0
	rest := content
	base := 0
	for {
		openLoc := openTagRe.FindStringIndex(rest)
		closeLoc := strings.Index(rest, closeTag)

		if openLoc == nil && closeLoc < 0 {
			break
		}

		if openLoc != nil && (closeLoc < 0 || openLoc[0] < closeLoc) {
			if depth > 0 {
				errs = append(errs, fmt.Sprintf("nested tag at offset %d", base+openLoc[0]))
			}
			depth++
			base += openLoc[1]
			rest = rest[openLoc[1]:]
			continue
		}

		if depth == 0 {
			errs = append(errs, fmt.Sprintf("unmatched close tag at offset %d", base+closeLoc))
		} else {
			depth--
		}
		base += closeLoc + len(closeTag)
		rest = rest[closeLoc+len(closeTag):]
	}

	return len(errs) == 0, errs
}

func escapeTagContent(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func unescapeTagContent(s string) string {
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}
