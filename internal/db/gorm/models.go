package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// GORM Models

// RuleSetRow stores one rule set version. Exactly one row is current; the
// others are history, ordered by replacement time.
type RuleSetRow struct {
	Version         string `gorm:"uniqueIndex;not null"`
	EffectiveDate   string `gorm:"not null"`
	Payload         string `gorm:"type:text;not null"`
	ChangeSummary   string `gorm:"type:text"`
	ImpactTag       string `gorm:"type:text"`
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	ReplacedAtEpoch int64  `gorm:"column:replaced_at_epoch;index:idx_rule_sets_replaced"`
	CreatedAtEpoch  int64  `gorm:"not null"`
	IsCurrent       bool   `gorm:"column:is_current;index:idx_rule_sets_current;not null;default:false"`
}

func (RuleSetRow) TableName() string { return "rule_sets" }

// BeforeCreate hook to ensure timestamps are set.
func (r *RuleSetRow) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedAtEpoch == 0 {
		r.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// InspectionRow stores an inspection record as JSON. The label is kept in
// its own column so training queries can filter on it.
type InspectionRow struct {
	RecordID       string       `gorm:"uniqueIndex;not null"`
	Theme          string       `gorm:"index:idx_inspections_theme"`
	Payload        string       `gorm:"type:text;not null"`
	Label          sql.NullBool `gorm:"index:idx_inspections_label"`
	ID             int64        `gorm:"primaryKey;autoIncrement"`
	CreatedAtEpoch int64        `gorm:"index:idx_inspections_created,sort:desc;not null"`
	UpdatedAtEpoch int64        `gorm:"not null"`
}

func (InspectionRow) TableName() string { return "inspections" }

// BeforeCreate hook to ensure timestamps are set.
func (r *InspectionRow) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UnixMilli()
	if r.CreatedAtEpoch == 0 {
		r.CreatedAtEpoch = now
	}
	if r.UpdatedAtEpoch == 0 {
		r.UpdatedAtEpoch = now
	}
	return nil
}

// AssessmentRow stores a produced risk assessment.
type AssessmentRow struct {
	AssessmentID    string  `gorm:"uniqueIndex;not null"`
	RecordID        string  `gorm:"index:idx_assessments_record;not null"`
	Category        string  `gorm:"type:text;index:idx_assessments_category;not null"`
	RuleVersion     string  `gorm:"type:text"`
	Payload         string  `gorm:"type:text;not null"`
	ID              int64   `gorm:"primaryKey;autoIncrement"`
	Score           float64 `gorm:"type:real"`
	Priority        int     `gorm:"default:0"`
	AssessedAtEpoch int64   `gorm:"index:idx_assessments_assessed,sort:desc;not null"`
}

func (AssessmentRow) TableName() string { return "assessments" }
