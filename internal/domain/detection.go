package domain

// PIIType classifies a detected piece of personally identifiable information
type PIIType string

const (
	// PIITypeEmail represents email addresses
	PIITypeEmail PIIType = "email"
	// PIITypePhone represents phone numbers
	PIITypePhone PIIType = "phone"
	// PIITypeSSN represents social security numbers
	PIITypeSSN PIIType = "ssn"
	// PIITypeCreditCard represents credit card numbers
	PIITypeCreditCard PIIType = "credit_card"
	// PIITypeIP represents IPv4 addresses
	PIITypeIP PIIType = "ip"
	// PIITypeName represents person names (semantic, AI-detected)
	PIITypeName PIIType = "name"
	// PIITypeAddress represents physical addresses (semantic, AI-detected)
	PIITypeAddress PIIType = "address"
)

// Placeholder returns the display label for a PII type
func (t PIIType) Placeholder() string {
	switch t {
	case PIITypeEmail:
		return "[EMAIL]"
	case PIITypePhone:
		return "[PHONE]"
	case PIITypeSSN:
		return "[SSN]"
	case PIITypeCreditCard:
		return "[CREDIT_CARD]"
	case PIITypeIP:
		return "[IP]"
	case PIITypeName:
		return "[NAME]"
	case PIITypeAddress:
		return "[ADDRESS]"
	default:
		return "[PII]"
	}
}

// Detection is a single PII finding inside a message. Offsets are byte
// offsets into the original, untagged message text as a half-open interval
// [StartOffset, EndOffset). Within one message detections are non-overlapping
// and sorted ascending by StartOffset. Never mutated after creation.
type Detection struct {
	PIIType     PIIType `json:"pii_type"`
	StartOffset int     `json:"start_offset"`
	EndOffset   int     `json:"end_offset"`
	Placeholder string  `json:"placeholder"`
	Confidence  float64 `json:"confidence"`
}

// Overlaps reports whether two detections cover intersecting byte ranges
func (d Detection) Overlaps(other Detection) bool {
	return d.StartOffset < other.EndOffset && d.EndOffset > other.StartOffset
}

// Shift returns a copy of the detection with both offsets moved by delta.
// Used to rebase batch-relative offsets to absolute message offsets.
func (d Detection) Shift(delta int) Detection {
	d.StartOffset += delta
	d.EndOffset += delta
	return d
}
