package classifier

import "github.com/Abraxas-365/inboxcore/internal/domain"

// The five importance buckets the model scores, in the fixed order used for
// tie-breaking (alphabetical). The order is part of the contract: the same
// distribution always projects to the same priority.
const (
	KeyInternalCommunications = "InternalCommunications"
	KeyNews                   = "News"
	KeyPromotional            = "Promotional"
	KeyRoutineWorkUpdates     = "RoutineWorkUpdates"
	KeyUrgentWorkInformation  = "UrgentWorkInformation"
)

var importanceKeys = []string{
	KeyInternalCommunications,
	KeyNews,
	KeyPromotional,
	KeyRoutineWorkUpdates,
	KeyUrgentWorkInformation,
}

// ProjectPriority reduces an importance distribution to a Priority.
//
// UrgentWorkInformation >= 50 is a definitive fast path: once it matches,
// nothing may reassign the result. Otherwise the maximum-valued key wins,
// with ties broken by the fixed alphabetical key order above. An all-zero
// distribution projects to information.
func ProjectPriority(dist map[string]int) domain.Priority {
	if dist[KeyUrgentWorkInformation] >= 50 {
		return domain.PriorityImportant
	}

	maxKey := ""
	maxVal := 0
	for _, k := range importanceKeys {
		if v := dist[k]; v > maxVal {
			maxKey = k
			maxVal = v
		}
	}
	if maxVal == 0 {
		return domain.PriorityInformation
	}

	switch maxKey {
	case KeyPromotional, KeyNews:
		return domain.PriorityUseless
	case KeyUrgentWorkInformation:
		return domain.PriorityImportant
	default:
		return domain.PriorityInformation
	}
}
