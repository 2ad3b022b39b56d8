// Package commission splits a gross sale amount into the marketplace fee and
// the seller's settlement.
package commission

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

const basisPointsPerUnit = 10000

var bpsDivisor = decimal.NewFromInt(basisPointsPerUnit)

// Split is the result of dividing a gross amount. PlatformFee + SettleAmount
// always equals the gross that produced it.
type Split struct {
	PlatformFee  int64
	SettleAmount int64
}

// Calculator applies a flat or tiered commission schedule.
type Calculator struct {
	mode          string
	rateBPS       int64
	tiers         []config.CommissionTier
	fixedFeeCents int64
}

// NewCalculator builds a calculator from configuration.
func NewCalculator(cfg config.CommissionConfig) (*Calculator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = config.CommissionModeFlat
	}
	if mode != config.CommissionModeFlat && mode != config.CommissionModeTiered {
		return nil, fmt.Errorf("unknown commission mode %q", cfg.Mode)
	}
	if cfg.RateBPS < 0 || cfg.RateBPS > basisPointsPerUnit {
		return nil, fmt.Errorf("commission rate %d bps out of range", cfg.RateBPS)
	}
	if cfg.FixedFeeCents < 0 {
		return nil, fmt.Errorf("commission fixed fee must not be negative")
	}
	tiers, err := cfg.ParseTiers()
	if err != nil {
		return nil, err
	}
	if mode == config.CommissionModeTiered && len(tiers) == 0 {
		return nil, fmt.Errorf("tiered commission requires %s", config.EnvCommissionTiers)
	}
	return &Calculator{
		mode:          mode,
		rateBPS:       cfg.RateBPS,
		tiers:         tiers,
		fixedFeeCents: cfg.FixedFeeCents,
	}, nil
}

// RateFor returns the basis points applied to gross.
func (c *Calculator) RateFor(gross int64) int64 {
	if c.mode != config.CommissionModeTiered {
		return c.rateBPS
	}
	rate := c.rateBPS
	for _, tier := range c.tiers {
		if gross < tier.MinCents {
			break
		}
		rate = tier.RateBPS
	}
	return rate
}

// Split divides gross into (fee, settle). The percentage fee is rounded half-up
// on the exact decimal, the fixed fee is added, and the total fee is capped at
// gross. Settle is always derived by subtraction.
func (c *Calculator) Split(gross int64) (Split, error) {
	if gross < 0 {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "gross amount must not be negative")
	}
	if gross == 0 {
		return Split{}, nil
	}

	fee := decimal.NewFromInt(gross).
		Mul(decimal.NewFromInt(c.RateFor(gross))).
		Div(bpsDivisor).
		Round(0).
		IntPart()
	fee += c.fixedFeeCents
	if fee > gross {
		fee = gross
	}
	return Split{PlatformFee: fee, SettleAmount: gross - fee}, nil
}
