package store

import "context"

type CommissionStore struct {
	db DB
}

type CommissionRule struct {
	ID        string  `db:"id"`
	TxType    string  `db:"tx_type"`
	Currency  *string `db:"currency"`
	Kind      string  `db:"kind"`
	Value     string  `db:"value"`
	MinFee    int64   `db:"min_fee"`
	MaxFee    *int64  `db:"max_fee"`
	PlanTiers string  `db:"plan_tiers"`
	Active    bool    `db:"active"`
	CreatedAt any     `db:"created_at"`
}

type CommissionRuleInput struct {
	ID        string
	TxType    string
	Currency  *string
	Kind      string
	Value     string
	MinFee    int64
	MaxFee    *int64
	PlanTiers string
}

func NewCommissionStore(db DB) *CommissionStore {
	return &CommissionStore{db: db}
}

// Resolve returns active rules for the type, currency-specific first,
// wildcard after. The engine picks the first applicable one.
func (s *CommissionStore) Resolve(ctx context.Context, txType, currency string) ([]CommissionRule, error) {
	var rows []CommissionRule
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tx_type, currency, kind, value, min_fee, max_fee, plan_tiers, active, created_at
		FROM commission_rules
		WHERE tx_type = $1 AND active = TRUE AND (currency = $2 OR currency IS NULL)
		ORDER BY currency NULLS LAST
	`, txType, currency)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Upsert replaces the active rule for (tx_type, currency). Old rules are
// deactivated, never deleted, so fee history stays auditable.
func (s *CommissionStore) Upsert(ctx context.Context, tx Tx, input CommissionRuleInput) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE commission_rules
		SET active = FALSE
		WHERE tx_type = $1 AND currency IS NOT DISTINCT FROM $2 AND active = TRUE
	`, input.TxType, input.Currency)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO commission_rules (id, tx_type, currency, kind, value, min_fee, max_fee, plan_tiers, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
	`, input.ID, input.TxType, input.Currency, input.Kind, input.Value, input.MinFee, input.MaxFee, input.PlanTiers)
	return err
}

func (s *CommissionStore) List(ctx context.Context) ([]CommissionRule, error) {
	var rows []CommissionRule
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tx_type, currency, kind, value, min_fee, max_fee, plan_tiers, active, created_at
		FROM commission_rules
		WHERE active = TRUE
		ORDER BY tx_type, currency NULLS LAST
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
