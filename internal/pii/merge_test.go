package pii

import (
	"testing"

	"github.com/liliang-cn/veilchat/internal/domain"
)

func det(piiType domain.PIIType, start, end int, confidence float64) domain.Detection {
	return domain.Detection{
		PIIType:     piiType,
		StartOffset: start,
		EndOffset:   end,
		Placeholder: piiType.Placeholder(),
		Confidence:  confidence,
	}
}

func TestMerge_RegexWinsOverlap(t *testing.T) {
	regex := []domain.Detection{det(domain.PIITypeEmail, 10, 26, 1.0)}
	ai := []domain.Detection{det(domain.PIITypeName, 5, 15, 0.8)}

	merged := Merge(regex, ai)
	if len(merged) != 1 {
		t.Fatalf("expected overlapping AI detection dropped, got %+v", merged)
	}
	if merged[0].PIIType != domain.PIITypeEmail {
		t.Errorf("regex detection not kept: %+v", merged[0])
	}
}

func TestMerge_DisjointKeepsBoth(t *testing.T) {
	regex := []domain.Detection{det(domain.PIITypeEmail, 20, 36, 1.0)}
	ai := []domain.Detection{det(domain.PIITypeName, 0, 8, 0.9)}

	merged := Merge(regex, ai)
	if len(merged) != 2 {
		t.Fatalf("expected 2 detections, got %+v", merged)
	}
	if merged[0].PIIType != domain.PIITypeName || merged[1].PIIType != domain.PIITypeEmail {
		t.Errorf("result not sorted by offset: %+v", merged)
	}
}

func TestMerge_AdjacentSpansNotOverlapping(t *testing.T) {
	// Half-open intervals: [0,8) and [8,16) touch but do not overlap
	regex := []domain.Detection{det(domain.PIITypeEmail, 0, 8, 1.0)}
	ai := []domain.Detection{det(domain.PIITypeName, 8, 16, 0.7)}

	if merged := Merge(regex, ai); len(merged) != 2 {
		t.Errorf("adjacent spans should both survive, got %+v", merged)
	}
}

func TestMerge_AIFirstAcceptedWins(t *testing.T) {
	ai := []domain.Detection{
		det(domain.PIITypeName, 0, 10, 0.9),
		det(domain.PIITypeAddress, 5, 20, 0.95),
	}

	merged := Merge(nil, ai)
	if len(merged) != 1 {
		t.Fatalf("expected 1 detection, got %+v", merged)
	}
	if merged[0].PIIType != domain.PIITypeName {
		t.Errorf("first accepted AI detection should win: %+v", merged[0])
	}
}

func TestMerge_Empty(t *testing.T) {
	if merged := Merge(nil, nil); len(merged) != 0 {
		t.Errorf("expected empty merge, got %+v", merged)
	}
}
