package commission

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidRule = errors.New("invalid commission rule")

const (
	KindPercentage = "PERCENTAGE"
	KindFlat       = "FLAT"
)

// Rule is a fee rule resolved for a transaction type. Value is a decimal
// string: the fraction of the amount for PERCENTAGE, the fee in minor units
// of the transaction currency for FLAT. MinFee/MaxFee clamp in minor units.
type Rule struct {
	TxType    string
	Currency  *string
	Kind      string
	Value     string
	MinFee    int64
	MaxFee    *int64
	PlanTiers string
}

type RuleSource interface {
	Resolve(ctx context.Context, txType, currency string) ([]Rule, error)
}

// Engine computes fees. Plan discounts are multipliers applied before
// clamping; a zero multiplier waives the fee entirely, bypassing min_fee.
type Engine struct {
	rules         RuleSource
	planDiscounts map[string]decimal.Decimal
}

type Fee struct {
	Minor      int64
	Percentage decimal.Decimal
}

func NewEngine(rules RuleSource, planDiscounts map[string]decimal.Decimal) *Engine {
	if planDiscounts == nil {
		planDiscounts = map[string]decimal.Decimal{}
	}
	return &Engine{rules: rules, planDiscounts: planDiscounts}
}

// Calculate resolves the fee for a transaction. Rule precedence:
// (type, currency) beats (type, wildcard); no rule means no fee.
func (e *Engine) Calculate(ctx context.Context, txType, currency, plan string, amountMinor int64) (Fee, error) {
	rules, err := e.rules.Resolve(ctx, txType, currency)
	if err != nil {
		return Fee{}, err
	}
	rule, ok := pickRule(rules, plan)
	if !ok {
		return Fee{}, nil
	}

	value, err := decimal.NewFromString(rule.Value)
	if err != nil || value.IsNegative() {
		return Fee{}, ErrInvalidRule
	}

	var fee decimal.Decimal
	percentage := decimal.Zero
	switch rule.Kind {
	case KindPercentage:
		percentage = value
		fee = decimal.NewFromInt(amountMinor).Mul(value)
	case KindFlat:
		fee = value
	default:
		return Fee{}, ErrInvalidRule
	}

	if multiplier, ok := e.planDiscounts[plan]; ok {
		if multiplier.IsZero() {
			return Fee{Minor: 0, Percentage: decimal.Zero}, nil
		}
		fee = fee.Mul(multiplier)
		percentage = percentage.Mul(multiplier)
	}

	minor := fee.RoundBank(0).IntPart()
	if minor < rule.MinFee {
		minor = rule.MinFee
	}
	if rule.MaxFee != nil && minor > *rule.MaxFee {
		minor = *rule.MaxFee
	}
	return Fee{Minor: minor, Percentage: percentage}, nil
}

// pickRule returns the first rule applicable to the plan. Rules arrive
// currency-specific first. An empty plan_tiers list applies to every plan.
func pickRule(rules []Rule, plan string) (Rule, bool) {
	for _, rule := range rules {
		if ruleAppliesToPlan(rule, plan) {
			return rule, true
		}
	}
	return Rule{}, false
}

func ruleAppliesToPlan(rule Rule, plan string) bool {
	tiers := strings.TrimSpace(rule.PlanTiers)
	if tiers == "" {
		return true
	}
	for _, tier := range strings.Split(tiers, ",") {
		if strings.TrimSpace(tier) == plan {
			return true
		}
	}
	return false
}
