// Package models contains domain models for inspectrisk.
package models

import "time"

// Category is an ordinal risk band.
type Category string

const (
	CategoryFaible   Category = "faible"
	CategoryMoyen    Category = "moyen"
	CategoryEleve    Category = "eleve"
	CategoryCritique Category = "critique"
)

// AllCategories lists the bands from lowest to highest risk.
var AllCategories = []Category{CategoryFaible, CategoryMoyen, CategoryEleve, CategoryCritique}

// Rank returns the ordinal position of the category, -1 if unknown.
func (c Category) Rank() int {
	for i, cat := range AllCategories {
		if cat == c {
			return i
		}
	}
	return -1
}

// RiskAssessmentResult is the outcome of scoring one inspection record.
type RiskAssessmentResult struct {
	AssessedAt               time.Time `json:"assessed_at"`
	BaselineProbability      *float64  `json:"baseline_probability,omitempty"`
	ID                       string    `json:"id"`
	RecordID                 string    `json:"record_id"`
	Name                     string    `json:"name,omitempty"`
	Category                 Category  `json:"category"`
	InspectionDelay          string    `json:"inspection_delay"`
	RuleVersion              string    `json:"rule_version"`
	Factors                  []string  `json:"factors"`
	Actions                  []string  `json:"actions"`
	RawProbability           float64   `json:"raw_probability"`
	AdjustedProbability      float64   `json:"adjusted_probability"`
	Score                    float64   `json:"score"`
	ContextScore             float64   `json:"context_score"`
	CategorizationConfidence float64   `json:"categorization_confidence"`
	PredictionConfidence     float64   `json:"prediction_confidence"`
	Priority                 int       `json:"priority"`
}

// BatchStats summarizes a batch of assessments.
type BatchStats struct {
	Distribution           map[Category]int `json:"distribution"`
	Count                  int              `json:"count"`
	Failed                 int              `json:"failed"`
	PriorityEstablishments int              `json:"priority_establishments"`
	Mean                   float64          `json:"mean"`
	Median                 float64          `json:"median"`
	Min                    float64          `json:"min"`
	Max                    float64          `json:"max"`
	StdDev                 float64          `json:"std_dev"`
}
