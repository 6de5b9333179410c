package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"value-calculation-service/internal/models"
)

// RuleSet is everything orientation needs for one task, keyed for lookup.
type RuleSet struct {
	Rules      map[uint]*models.OrientationRule
	Benchmarks map[uint]map[string]models.OrientationBenchmark // rule -> department code
	Values     map[uint]map[string]models.OrientationValue     // rule -> department code
}

// LoadRuleSet loads the active rules among ids with their ladders ordered
// by ladder_order, plus benchmarks and the period's actual values.
func (s *Store) LoadRuleSet(ctx context.Context, hospitalID uint, ids []uint, period string) (*RuleSet, error) {
	set := &RuleSet{
		Rules:      make(map[uint]*models.OrientationRule),
		Benchmarks: make(map[uint]map[string]models.OrientationBenchmark),
		Values:     make(map[uint]map[string]models.OrientationValue),
	}
	if len(ids) == 0 {
		return set, nil
	}

	var rules []models.OrientationRule
	if err := s.conn(ctx).
		Preload("Ladders", func(db *gorm.DB) *gorm.DB { return db.Order("ladder_order ASC, id ASC") }).
		Where("id IN ? AND hospital_id = ? AND is_active = ?", ids, hospitalID, true).
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to load orientation rules: %w", err)
	}
	for i := range rules {
		set.Rules[rules[i].ID] = &rules[i]
	}

	var benchmarks []models.OrientationBenchmark
	if err := s.conn(ctx).Where("rule_id IN ?", ids).Find(&benchmarks).Error; err != nil {
		return nil, fmt.Errorf("failed to load orientation benchmarks: %w", err)
	}
	for _, b := range benchmarks {
		if set.Benchmarks[b.RuleID] == nil {
			set.Benchmarks[b.RuleID] = make(map[string]models.OrientationBenchmark)
		}
		set.Benchmarks[b.RuleID][b.DepartmentCode] = b
	}

	var values []models.OrientationValue
	if err := s.conn(ctx).Where("rule_id IN ? AND period = ?", ids, period).Find(&values).Error; err != nil {
		return nil, fmt.Errorf("failed to load orientation values: %w", err)
	}
	for _, v := range values {
		if set.Values[v.RuleID] == nil {
			set.Values[v.RuleID] = make(map[string]models.OrientationValue)
		}
		set.Values[v.RuleID][v.DepartmentCode] = v
	}
	return set, nil
}
