package categorizer

import (
	"fmt"
	"slices"

	"github.com/thebtf/inspectrisk/internal/stats"
	"github.com/thebtf/inspectrisk/pkg/models"
)

var categoryActions = map[models.Category][]string{
	models.CategoryCritique: {
		"Immediate inspection required",
		"Temporary closure possible",
		"Daily follow-up until compliant",
		"Full audit of procedures",
	},
	models.CategoryEleve: {
		"Priority inspection within 7-14 days",
		"Reinforced monitoring",
		"Mandatory staff training",
		"Compliance plan required",
	},
	models.CategoryMoyen: {
		"Inspection scheduled within 30-60 days",
		"Awareness of good practices",
		"Check of preventive measures",
		"Follow-up of improvements",
	},
	models.CategoryFaible: {
		"Routine inspection per calendar",
		"Maintain good practices",
		"Acknowledge efforts",
		"Share best practices",
	},
}

var categoryDelays = map[models.Category]string{
	models.CategoryCritique: "immediate (0-3 days)",
	models.CategoryEleve:    "urgent (7-14 days)",
	models.CategoryMoyen:    "scheduled (30-60 days)",
	models.CategoryFaible:   "routine (90-180 days)",
}

// Actions returns the recommended actions for a category. Unknown
// categories get the moyen actions.
func Actions(cat models.Category) []string {
	if a, ok := categoryActions[cat]; ok {
		return slices.Clone(a)
	}
	return slices.Clone(categoryActions[models.CategoryMoyen])
}

// Delay returns the recommended inspection delay for a category.
func Delay(cat models.Category) string {
	if d, ok := categoryDelays[cat]; ok {
		return d
	}
	return categoryDelays[models.CategoryMoyen]
}

// Priority returns the inspection priority from 1 to 10. Eleve scores of
// 70 and above rank 8, moyen scores of 50 and above rank 5.
func Priority(cat models.Category, score float64) int {
	switch cat {
	case models.CategoryCritique:
		return 10
	case models.CategoryEleve:
		if score >= 70 {
			return 8
		}
		return 7
	case models.CategoryMoyen:
		if score >= 50 {
			return 5
		}
		return 4
	case models.CategoryFaible:
		return 2
	default:
		return 5
	}
}

// Item is one score to categorize in a batch.
type Item struct {
	Context Context `json:"context"`
	Score   float64 `json:"score"`
}

// BatchResult aggregates a batch of categorizations.
type BatchResult struct {
	Distribution map[models.Category]int     `json:"distribution"`
	Percentages  map[models.Category]float64 `json:"percentages"`
	Results      []Assignment                `json:"results"`
	Snapshot     Snapshot                    `json:"snapshot"`
	Total        int                         `json:"total"`
	Critical     int                         `json:"critical"`
	Prioritized  int                         `json:"prioritized"`
	MeanPriority float64                     `json:"mean_priority"`
}

// CategorizeBatch categorizes each item in order, so the batch advances
// the history and may trigger recalibrations along the way. Items without
// a name are labelled by position.
func (c *Categorizer) CategorizeBatch(items []Item) BatchResult {
	res := BatchResult{
		Distribution: make(map[models.Category]int),
		Percentages:  make(map[models.Category]float64),
		Results:      make([]Assignment, 0, len(items)),
		Total:        len(items),
	}
	priorities := make([]float64, 0, len(items))
	for i, it := range items {
		a := c.Categorize(it.Score, it.Context)
		if a.RecordID == "" {
			a.RecordID = fmt.Sprintf("restaurant_%d", i)
		}
		res.Results = append(res.Results, a)
		res.Distribution[a.Category]++
		priorities = append(priorities, float64(a.Priority))
	}
	for cat, n := range res.Distribution {
		res.Percentages[cat] = float64(n) / float64(res.Total) * 100
	}
	res.Critical = res.Distribution[models.CategoryCritique]
	res.Prioritized = res.Critical + res.Distribution[models.CategoryEleve]
	res.MeanPriority = stats.Mean(priorities)
	res.Snapshot = c.Snapshot()
	return res
}
