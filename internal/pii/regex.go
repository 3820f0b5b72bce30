package pii

import (
	"regexp"
	"sort"
	"strings"

	"github.com/liliang-cn/veilchat/internal/domain"
)

// regexRule is one fixed-format PII pattern. Rules are applied in priority
// order; validate rejects matches the pattern alone cannot exclude (RE2 has
// no lookahead).
type regexRule struct {
	piiType  domain.PIIType
	re       *regexp.Regexp
	validate func(match string) bool
}

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe = regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?[2-9][0-9]{2}\)?[-. ]?[0-9]{3}[-. ]?[0-9]{4}\b`)
	ssnRe   = regexp.MustCompile(`\b(?:[0-9]{3}-[0-9]{2}-[0-9]{4}|[0-9]{9})\b`)
	cardRe  = regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`)
	ipv4Re  = regexp.MustCompile(`\b(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])(?:\.(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])){3}\b`)
)

// validSSNArea rejects SSNs with area 000, 666 or 900-999
func validSSNArea(match string) bool {
	area := match[:3]
	if area == "000" || area == "666" {
		return false
	}
	return area[0] != '9'
}

// RegexDetector matches fixed-format PII via anchored patterns. It is
// stateless and safe for concurrent use.
type RegexDetector struct {
	rules []regexRule
}

// NewRegexDetector creates a regex detector with the built-in rule set
func NewRegexDetector() *RegexDetector {
	return &RegexDetector{
		rules: []regexRule{
			{piiType: domain.PIITypeEmail, re: emailRe},
			{piiType: domain.PIITypePhone, re: phoneRe},
			{piiType: domain.PIITypeSSN, re: ssnRe, validate: validSSNArea},
			{piiType: domain.PIITypeCreditCard, re: cardRe},
			{piiType: domain.PIITypeIP, re: ipv4Re},
		},
	}
}

// Detect scans text for fixed-format PII of the enabled types and returns
// sorted, non-overlapping detections with confidence 1.0. Types are processed
// in fixed priority order with a left-to-right scan; when two matches
// overlap, the one found first is kept.
func (d *RegexDetector) Detect(text string, enabledTypes []domain.PIIType) []domain.Detection {
	if text == "" {
		return nil
	}

	enabled := make(map[domain.PIIType]bool, len(enabledTypes))
	for _, t := range enabledTypes {
		enabled[t] = true
	}

	var accepted []domain.Detection
	for _, rule := range d.rules {
		if !enabled[rule.piiType] {
			continue
		}
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if rule.validate != nil && !rule.validate(match) {
				continue
			}
			det := domain.Detection{
				PIIType:     rule.piiType,
				StartOffset: loc[0],
				EndOffset:   loc[1],
				Placeholder: rule.piiType.Placeholder(),
				Confidence:  1.0,
			}
			if overlapsAny(det, accepted) {
				continue
			}
			accepted = append(accepted, det)
		}
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].StartOffset < accepted[j].StartOffset
	})
	return accepted
}

func overlapsAny(d domain.Detection, existing []domain.Detection) bool {
	for _, e := range existing {
		if d.Overlaps(e) {
			return true
		}
	}
	return false
}

// ParseTypes converts configured type names into PIITypes, dropping unknown
// names
func ParseTypes(names []string) []domain.PIIType {
	var types []domain.PIIType
	for _, name := range names {
		t := domain.PIIType(strings.ToLower(strings.TrimSpace(name)))
		switch t {
		case domain.PIITypeEmail, domain.PIITypePhone, domain.PIITypeSSN,
			domain.PIITypeCreditCard, domain.PIITypeIP,
			domain.PIITypeName, domain.PIITypeAddress:
			types = append(types, t)
		}
	}
	return types
}
