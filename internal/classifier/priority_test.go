package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Abraxas-365/inboxcore/internal/domain"
)

func TestProjectPriority(t *testing.T) {
	tests := []struct {
		name string
		dist map[string]int
		want domain.Priority
	}{
		{
			name: "urgent fast path",
			dist: map[string]int{KeyUrgentWorkInformation: 60, KeyPromotional: 30},
			want: domain.PriorityImportant,
		},
		{
			name: "urgent fast path beats higher promotional score",
			dist: map[string]int{KeyUrgentWorkInformation: 50, KeyPromotional: 90},
			want: domain.PriorityImportant,
		},
		{
			name: "promotional max is useless",
			dist: map[string]int{KeyPromotional: 40, KeyNews: 35, KeyRoutineWorkUpdates: 25},
			want: domain.PriorityUseless,
		},
		{
			name: "news max is useless",
			dist: map[string]int{KeyNews: 70, KeyInternalCommunications: 20},
			want: domain.PriorityUseless,
		},
		{
			name: "routine max is information",
			dist: map[string]int{KeyRoutineWorkUpdates: 55, KeyPromotional: 10},
			want: domain.PriorityInformation,
		},
		{
			name: "internal max is information",
			dist: map[string]int{KeyInternalCommunications: 45, KeyNews: 30},
			want: domain.PriorityInformation,
		},
		{
			name: "urgent below fifty but max is important",
			dist: map[string]int{KeyUrgentWorkInformation: 49, KeyNews: 10},
			want: domain.PriorityImportant,
		},
		{
			name: "all zeros is information",
			dist: map[string]int{},
			want: domain.PriorityInformation,
		},
		{
			name: "tie broken alphabetically",
			// InternalCommunications sorts before Promotional, so the tie
			// resolves to information, not useless.
			dist: map[string]int{KeyInternalCommunications: 40, KeyPromotional: 40},
			want: domain.PriorityInformation,
		},
		{
			name: "tie between news and promotional stays useless",
			dist: map[string]int{KeyNews: 30, KeyPromotional: 30},
			want: domain.PriorityUseless,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProjectPriority(tt.dist))
		})
	}
}

func TestProjectPriorityIsStable(t *testing.T) {
	dist := map[string]int{KeyNews: 40, KeyRoutineWorkUpdates: 40, KeyPromotional: 40}
	first := ProjectPriority(dist)
	for range 100 {
		assert.Equal(t, first, ProjectPriority(dist))
	}
}
