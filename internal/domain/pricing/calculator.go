package pricing

import (
	"github.com/shopspring/decimal"
)

// RoundingStrategy decides how a computed price is rounded to cents
type RoundingStrategy string

const (
	RoundingUp      RoundingStrategy = "UP"
	RoundingDown    RoundingStrategy = "DOWN"
	RoundingNearest RoundingStrategy = "NEAREST"
)

// IsValid returns true if the strategy is valid
func (r RoundingStrategy) IsValid() bool {
	switch r {
	case RoundingUp, RoundingDown, RoundingNearest:
		return true
	}
	return false
}

// Apply rounds d to two decimal places.
// Nearest rounds half away from zero, which is half-up for prices.
func (r RoundingStrategy) Apply(d decimal.Decimal) decimal.Decimal {
	switch r {
	case RoundingUp:
		return d.RoundCeil(2)
	case RoundingDown:
		return d.RoundFloor(2)
	default:
		return d.Round(2)
	}
}

// Clamp bounds a computed price. Nil ends are open.
type Clamp struct {
	Min *decimal.Decimal
	Max *decimal.Decimal
}

// Validate checks Min <= Max when both are set
func (c *Clamp) Validate() error {
	if c == nil || c.Min == nil || c.Max == nil {
		return nil
	}
	if c.Min.GreaterThan(*c.Max) {
		return ErrInvalidClamp
	}
	return nil
}

// Apply returns the clamped price and whether it was changed
func (c *Clamp) Apply(price decimal.Decimal) (decimal.Decimal, bool) {
	if c == nil {
		return price, false
	}
	if c.Min != nil && price.LessThan(*c.Min) {
		return *c.Min, true
	}
	if c.Max != nil && price.GreaterThan(*c.Max) {
		return *c.Max, true
	}
	return price, false
}

// Calculate converts a source price: sourcePrice * rate * marginRate, rounded
// to cents, then clamped.
func Calculate(sourcePrice, rate, marginRate decimal.Decimal, rounding RoundingStrategy, clamp *Clamp) (decimal.Decimal, error) {
	if !sourcePrice.IsPositive() {
		return decimal.Zero, ErrInvalidSourcePrice
	}
	if !rate.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	if !marginRate.IsPositive() {
		return decimal.Zero, ErrInvalidMargin
	}
	if !rounding.IsValid() {
		return decimal.Zero, ErrInvalidRounding
	}
	if err := clamp.Validate(); err != nil {
		return decimal.Zero, err
	}
	price := rounding.Apply(sourcePrice.Mul(rate).Mul(marginRate))
	price, _ = clamp.Apply(price)
	return price, nil
}

// ---------------------------------------------------------------------------
// Margin override rules
// ---------------------------------------------------------------------------

// RuleScope is what a margin rule matches on
type RuleScope string

const (
	RuleScopeSKU      RuleScope = "SKU"
	RuleScopeBrand    RuleScope = "BRAND"
	RuleScopeCategory RuleScope = "CATEGORY"
)

// specificity ranks scopes; higher wins
func (s RuleScope) specificity() int {
	switch s {
	case RuleScopeSKU:
		return 3
	case RuleScopeBrand:
		return 2
	case RuleScopeCategory:
		return 1
	}
	return 0
}

// MarginRule replaces a product's margin when it matches
type MarginRule struct {
	Name       string
	Scope      RuleScope
	Match      string
	MarginRate decimal.Decimal
}

func (r MarginRule) matches(in PriceInput) bool {
	switch r.Scope {
	case RuleScopeSKU:
		return r.Match == in.SKU
	case RuleScopeBrand:
		return in.Brand != "" && r.Match == in.Brand
	case RuleScopeCategory:
		return in.Category != "" && r.Match == in.Category
	}
	return false
}

// ---------------------------------------------------------------------------
// Calculator
// ---------------------------------------------------------------------------

// PriceWarning flags a computed price for operator review
type PriceWarning string

const (
	WarningBelowSanityFloor PriceWarning = "BELOW_SANITY_FLOOR"
	WarningLargeSwing       PriceWarning = "LARGE_SWING"
	WarningClamped          PriceWarning = "CLAMPED"
)

// PriceInput carries everything needed to price one product
type PriceInput struct {
	SKU         string
	Category    string
	Brand       string
	SourcePrice decimal.Decimal
	Rate        decimal.Decimal
	MarginRate  decimal.Decimal
	// LastPrice is the last known target price, used for swing detection
	LastPrice *decimal.Decimal
}

// PriceResult is the outcome of a calculation
type PriceResult struct {
	Price       decimal.Decimal
	MarginRate  decimal.Decimal
	AppliedRule string
	Warnings    []PriceWarning
}

// HasWarning returns true if w was raised
func (r *PriceResult) HasWarning(w PriceWarning) bool {
	for _, existing := range r.Warnings {
		if existing == w {
			return true
		}
	}
	return false
}

// CalculatorConfig configures a Calculator
type CalculatorConfig struct {
	Rounding RoundingStrategy
	Clamp    *Clamp
	Rules    []MarginRule
	// SanityFloor flags prices below it (e.g. 1.00)
	SanityFloor decimal.Decimal
	// SwingThreshold flags changes larger than this ratio of the last price (e.g. 0.5)
	SwingThreshold decimal.Decimal
}

// Calculator applies override rules, rounding, clamps and warnings.
// It never blocks a price: warnings are surfaced, not enforced.
type Calculator struct {
	config CalculatorConfig
}

// NewCalculator validates the configuration and creates a Calculator
func NewCalculator(cfg CalculatorConfig) (*Calculator, error) {
	if cfg.Rounding == "" {
		cfg.Rounding = RoundingNearest
	}
	if !cfg.Rounding.IsValid() {
		return nil, ErrInvalidRounding
	}
	if err := cfg.Clamp.Validate(); err != nil {
		return nil, err
	}
	for _, rule := range cfg.Rules {
		if !rule.MarginRate.IsPositive() {
			return nil, ErrInvalidMargin
		}
	}
	return &Calculator{config: cfg}, nil
}

// ResolveMargin returns the margin for the input and the name of the rule that
// supplied it ("" when the mapping's own margin is used)
func (c *Calculator) ResolveMargin(in PriceInput) (decimal.Decimal, string) {
	var best *MarginRule
	for i := range c.config.Rules {
		rule := &c.config.Rules[i]
		if !rule.matches(in) {
			continue
		}
		if best == nil || rule.Scope.specificity() > best.Scope.specificity() {
			best = rule
		}
	}
	if best == nil {
		return in.MarginRate, ""
	}
	return best.MarginRate, best.Name
}

// Calculate prices one product
func (c *Calculator) Calculate(in PriceInput) (*PriceResult, error) {
	margin, ruleName := c.ResolveMargin(in)

	unclamped, err := Calculate(in.SourcePrice, in.Rate, margin, c.config.Rounding, nil)
	if err != nil {
		return nil, err
	}
	price, clamped := c.config.Clamp.Apply(unclamped)

	result := &PriceResult{
		Price:       price,
		MarginRate:  margin,
		AppliedRule: ruleName,
	}
	if clamped {
		result.Warnings = append(result.Warnings, WarningClamped)
	}
	if c.config.SanityFloor.IsPositive() && price.LessThan(c.config.SanityFloor) {
		result.Warnings = append(result.Warnings, WarningBelowSanityFloor)
	}
	if in.LastPrice != nil && in.LastPrice.IsPositive() && c.config.SwingThreshold.IsPositive() {
		swing := price.Sub(*in.LastPrice).Abs().Div(*in.LastPrice)
		if swing.GreaterThan(c.config.SwingThreshold) {
			result.Warnings = append(result.Warnings, WarningLargeSwing)
		}
	}
	return result, nil
}
