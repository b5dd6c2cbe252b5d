package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/inspectrisk/pkg/models"
)

// MaxRecordLimit caps the number of rows a single query returns.
const MaxRecordLimit = 10000

// RecordStore persists inspection records and produced assessments.
type RecordStore struct {
	store *Store
}

// NewRecordStore creates a record store on an open Store.
func NewRecordStore(store *Store) *RecordStore {
	return &RecordStore{store: store}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxRecordLimit {
		return MaxRecordLimit
	}
	return limit
}

// SaveRecords upserts records by their ID. Records without an ID are
// rejected before anything is written.
func (s *RecordStore) SaveRecords(ctx context.Context, records []models.InspectionRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	now := time.Now().UnixMilli()
	rows := make([]InspectionRow, 0, len(records))
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			return 0, fmt.Errorf("record %d: missing id", i)
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		row := InspectionRow{
			RecordID:       rec.ID,
			Theme:          string(rec.ThemeClass()),
			Payload:        string(payload),
			UpdatedAtEpoch: now,
		}
		if rec.Label != nil {
			row.Label = sql.NullBool{Bool: *rec.Label, Valid: true}
		}
		rows = append(rows, row)
	}

	err := s.store.TransactionWithTimeout(ctx, SlowQueryTimeout, "save_records", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"theme", "payload", "label", "updated_at_epoch"}),
		}).CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return 0, fmt.Errorf("save records: %w", err)
	}
	return len(rows), nil
}

// LabeledRecords returns up to limit records carrying a ground-truth
// label, most recently stored first.
func (s *RecordStore) LabeledRecords(ctx context.Context, limit int) ([]models.InspectionRecord, error) {
	ctx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "labeled_records")
	defer cancel()

	var rows []InspectionRow
	err := s.store.DB.WithContext(ctx).
		Where("label IS NOT NULL").
		Order("created_at_epoch DESC, id DESC").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query labeled records: %w", err)
	}
	return decodeRecords(rows)
}

// Records returns stored records, most recent first.
func (s *RecordStore) Records(ctx context.Context, limit, offset int) ([]models.InspectionRecord, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "records")
	defer cancel()

	var rows []InspectionRow
	err := s.store.DB.WithContext(ctx).
		Order("created_at_epoch DESC, id DESC").
		Limit(clampLimit(limit)).
		Offset(max(offset, 0)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return decodeRecords(rows)
}

// CountRecords returns the total and labeled record counts.
func (s *RecordStore) CountRecords(ctx context.Context) (total, labeled int64, err error) {
	db := s.store.DB.WithContext(ctx).Model(&InspectionRow{})
	if err = db.Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count records: %w", err)
	}
	if err = s.store.DB.WithContext(ctx).Model(&InspectionRow{}).
		Where("label IS NOT NULL").Count(&labeled).Error; err != nil {
		return 0, 0, fmt.Errorf("count labeled records: %w", err)
	}
	return total, labeled, nil
}

func decodeRecords(rows []InspectionRow) ([]models.InspectionRecord, error) {
	out := make([]models.InspectionRecord, 0, len(rows))
	for _, row := range rows {
		var rec models.InspectionRecord
		if err := json.Unmarshal([]byte(row.Payload), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", row.RecordID, err)
		}
		// The column is authoritative for the label.
		if row.Label.Valid {
			label := row.Label.Bool
			rec.Label = &label
		} else {
			rec.Label = nil
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveAssessment stores one produced assessment.
func (s *RecordStore) SaveAssessment(ctx context.Context, res *models.RiskAssessmentResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode assessment %s: %w", res.ID, err)
	}
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "save_assessment")
	defer cancel()

	row := &AssessmentRow{
		AssessmentID:    res.ID,
		RecordID:        res.RecordID,
		Category:        string(res.Category),
		RuleVersion:     res.RuleVersion,
		Payload:         string(payload),
		Score:           res.Score,
		Priority:        res.Priority,
		AssessedAtEpoch: res.AssessedAt.UnixMilli(),
	}
	if err := s.store.DB.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("store assessment %s: %w", res.ID, err)
	}
	return nil
}

// RecentAssessments returns the latest assessments, optionally for one
// record only.
func (s *RecordStore) RecentAssessments(ctx context.Context, recordID string, limit int) ([]*models.RiskAssessmentResult, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "recent_assessments")
	defer cancel()

	q := s.store.DB.WithContext(ctx).Order("assessed_at_epoch DESC, id DESC").Limit(clampLimit(limit))
	if recordID != "" {
		q = q.Where("record_id = ?", recordID)
	}
	var rows []AssessmentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}

	out := make([]*models.RiskAssessmentResult, 0, len(rows))
	for _, row := range rows {
		var res models.RiskAssessmentResult
		if err := json.Unmarshal([]byte(row.Payload), &res); err != nil {
			return nil, fmt.Errorf("decode assessment %s: %w", row.AssessmentID, err)
		}
		out = append(out, &res)
	}
	return out, nil
}

// PruneAssessments deletes assessments produced before cutoff, in batches
// of batchSize rows. It returns the number of rows deleted, including
// those of completed batches when a later batch fails.
func (s *RecordStore) PruneAssessments(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	var ids []int64
	err := s.store.DB.WithContext(ctx).
		Model(&AssessmentRow{}).
		Where("assessed_at_epoch < ?", cutoff.UnixMilli()).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("select expired assessments: %w", err)
	}

	var deleted int64
	for i := 0; i < len(ids); i += batchSize {
		batch := ids[i:min(i+batchSize, len(ids))]
		res := s.store.DB.WithContext(ctx).Where("id IN ?", batch).Delete(&AssessmentRow{})
		if res.Error != nil {
			return deleted, fmt.Errorf("delete assessments: %w", res.Error)
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

// CountAssessments returns the number of stored assessments.
func (s *RecordStore) CountAssessments(ctx context.Context) (int64, error) {
	var n int64
	if err := s.store.DB.WithContext(ctx).Model(&AssessmentRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count assessments: %w", err)
	}
	return n, nil
}

// CategoryCounts returns the number of stored assessments per category.
func (s *RecordStore) CategoryCounts(ctx context.Context) (map[models.Category]int64, error) {
	type countRow struct {
		Category string
		N        int64
	}
	var rows []countRow
	err := s.store.DB.WithContext(ctx).
		Model(&AssessmentRow{}).
		Select("category, COUNT(*) AS n").
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count assessments: %w", err)
	}

	out := make(map[models.Category]int64, len(models.AllCategories))
	for _, c := range models.AllCategories {
		out[c] = 0
	}
	for _, r := range rows {
		out[models.Category(r.Category)] = r.N
	}
	return out, nil
}
