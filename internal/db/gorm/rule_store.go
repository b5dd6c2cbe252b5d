package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/thebtf/inspectrisk/internal/rules"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// RuleStore persists the current rule set and its history.
type RuleStore struct {
	store *Store
}

// NewRuleStore creates a rule store on an open Store.
func NewRuleStore(store *Store) *RuleStore {
	return &RuleStore{store: store}
}

// SaveRules marks the replaced rule set as history and installs current,
// in one transaction.
func (s *RuleStore) SaveRules(ctx context.Context, current *models.RuleSet, replaced rules.HistoryEntry) error {
	if current == nil {
		return fmt.Errorf("save rules: nil rule set")
	}
	currentPayload, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encode rule set %s: %w", current.Version, err)
	}
	var replacedPayload []byte
	if replaced.Rules != nil {
		if replacedPayload, err = json.Marshal(replaced.Rules); err != nil {
			return fmt.Errorf("encode rule set %s: %w", replaced.Version, err)
		}
	}

	return s.store.TransactionWithTimeout(ctx, DefaultQueryTimeout, "save_rules", func(tx *gorm.DB) error {
		if err := tx.Model(&RuleSetRow{}).
			Where("is_current = ?", true).
			Update("is_current", false).Error; err != nil {
			return err
		}

		if replaced.Version != "" {
			if err := upsertHistory(tx, replaced, replacedPayload); err != nil {
				return fmt.Errorf("store history %s: %w", replaced.Version, err)
			}
		}

		row := &RuleSetRow{
			Version:       current.Version,
			EffectiveDate: current.EffectiveDate,
			Payload:       string(currentPayload),
			IsCurrent:     true,
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("store rule set %s: %w", current.Version, err)
		}
		return nil
	})
}

// upsertHistory records the replaced rule set. The first persisted update
// also stores the rule set it replaced, which was never saved before.
func upsertHistory(tx *gorm.DB, entry rules.HistoryEntry, payload []byte) error {
	var existing RuleSetRow
	err := tx.Where("version = ?", entry.Version).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if payload == nil {
			return fmt.Errorf("missing rules for new history entry")
		}
		return tx.Create(&RuleSetRow{
			Version:         entry.Version,
			EffectiveDate:   entry.EffectiveDate,
			Payload:         string(payload),
			ChangeSummary:   entry.ChangeSummary,
			ImpactTag:       entry.ImpactTag,
			ReplacedAtEpoch: entry.ReplacedAt.UnixMilli(),
		}).Error
	case err != nil:
		return err
	}

	updates := map[string]any{
		"is_current":        false,
		"change_summary":    entry.ChangeSummary,
		"impact_tag":        entry.ImpactTag,
		"replaced_at_epoch": entry.ReplacedAt.UnixMilli(),
	}
	if payload != nil {
		updates["payload"] = string(payload)
	}
	return tx.Model(&RuleSetRow{}).Where("id = ?", existing.ID).Updates(updates).Error
}

// LoadRules returns the current rule set and its history, oldest first.
// A nil rule set means nothing was stored yet.
func (s *RuleStore) LoadRules(ctx context.Context) (*models.RuleSet, []rules.HistoryEntry, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "load_rules")
	defer cancel()
	db := s.store.DB.WithContext(ctx)

	var row RuleSetRow
	err := db.Where("is_current = ?", true).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load current rules: %w", err)
	}
	current, err := decodeRuleSet(row.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("decode rule set %s: %w", row.Version, err)
	}

	var rows []RuleSetRow
	if err := db.Where("is_current = ?", false).
		Order("replaced_at_epoch ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("load rule history: %w", err)
	}

	history := make([]rules.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		rs, err := decodeRuleSet(r.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("decode rule set %s: %w", r.Version, err)
		}
		history = append(history, rules.HistoryEntry{
			ReplacedAt:    time.UnixMilli(r.ReplacedAtEpoch).UTC(),
			Rules:         rs,
			Version:       r.Version,
			EffectiveDate: r.EffectiveDate,
			ChangeSummary: r.ChangeSummary,
			ImpactTag:     r.ImpactTag,
		})
	}
	return current, history, nil
}

func decodeRuleSet(payload string) (*models.RuleSet, error) {
	var rs models.RuleSet
	if err := json.Unmarshal([]byte(payload), &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Ensure RuleStore satisfies the interface
var _ rules.Store = (*RuleStore)(nil)
