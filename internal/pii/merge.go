package pii

import (
	"sort"

	"github.com/liliang-cn/veilchat/internal/domain"
)

// Merge combines regex and AI detections for one batch. Regex detections are
// kept verbatim; an AI detection is dropped if it overlaps any regex
// detection or any earlier accepted AI detection. Both inputs must be sorted
// and internally non-overlapping; the result is sorted and non-overlapping.
func Merge(regexResults, aiResults []domain.Detection) []domain.Detection {
	merged := make([]domain.Detection, 0, len(regexResults)+len(aiResults))
	merged = append(merged, regexResults...)

	for _, ai := range aiResults {
		if !overlapsAny(ai, merged) {
			merged = append(merged, ai)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].StartOffset < merged[j].StartOffset
	})
	return merged
}
