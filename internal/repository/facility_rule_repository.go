package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pawsacademy/training-api/internal/models"
)

// FacilityRuleRepository reads facility-authored policy rows: behavior
// exclusion rules and the makeup pricing policy.
type FacilityRuleRepository struct {
	db *sqlx.DB
}

// NewFacilityRuleRepository constructs the repository.
func NewFacilityRuleRepository(db *sqlx.DB) *FacilityRuleRepository {
	return &FacilityRuleRepository{db: db}
}

// ListExclusionsByCourseType returns the behavior exclusion rules that
// apply to one course type.
func (r *FacilityRuleRepository) ListExclusionsByCourseType(ctx context.Context, courseTypeID string) ([]models.BehaviorExclusionRule, error) {
	const query = `SELECT id, course_type_id, blocked_flags, reason
        FROM behavior_exclusion_rules WHERE course_type_id = $1`
	var rules []models.BehaviorExclusionRule
	if err := r.db.SelectContext(ctx, &rules, query, courseTypeID); err != nil {
		return nil, fmt.Errorf("list behavior exclusions: %w", err)
	}
	return rules, nil
}

// GetPricingRule returns the facility's makeup pricing policy, or
// sql.ErrNoRows when the facility never configured one.
func (r *FacilityRuleRepository) GetPricingRule(ctx context.Context) (*models.MakeupPricingRule, error) {
	const query = `SELECT kind, amount_cents, percentage_of_series
        FROM makeup_pricing_rules ORDER BY created_at DESC LIMIT 1`
	var rule models.MakeupPricingRule
	if err := r.db.GetContext(ctx, &rule, query); err != nil {
		return nil, err
	}
	return &rule, nil
}
