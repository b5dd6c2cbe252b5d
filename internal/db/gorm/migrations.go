package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: rule set versions and history
		{
			ID: "001_rule_sets",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&RuleSetRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("rule_sets")
			},
		},

		// Migration 002: inspection records used for training
		{
			ID: "002_inspections",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&InspectionRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("inspections")
			},
		},

		// Migration 003: produced assessments
		{
			ID: "003_assessments",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&AssessmentRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("assessments")
			},
		},
	})

	return m.Migrate()
}
