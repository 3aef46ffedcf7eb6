package exitmgmt

import "fmt"

// SizingConfig mirrors execution_v2.sizing.SizingConfig: volatility-proxy
// based position sizing with no fixed price/ATR stop, scaled by extension
// and capped as a percent of account equity.
type SizingConfig struct {
	MaxPositionPct float64
	BaseRiskPct    float64
	MaxDistPct     float64
}

// DefaultSizingConfig matches the dataclass defaults in execution_v2/sizing.py.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{MaxPositionPct: 0.10, BaseRiskPct: 0.02, MaxDistPct: 6.0}
}

// ComputeSizeShares returns the integer share quantity for a new position:
// larger extension (distPct, or atrPct if larger) shrinks the allocation,
// and a hard cap bounds dollars at maxPositionPct of equity —
// execution_v2.sizing.compute_size_shares.
func ComputeSizeShares(accountEquity, price, distPct float64, cfg SizingConfig, hasATRPct bool, atrPct float64) (int, error) {
	if accountEquity <= 0 {
		return 0, fmt.Errorf("compute_size_shares: account_equity must be positive")
	}
	if price <= 0 {
		return 0, fmt.Errorf("compute_size_shares: price must be positive")
	}

	volProxy := distPct
	if hasATRPct && atrPct > 0 && atrPct > distPct {
		volProxy = atrPct
	}

	norm := volProxy / cfg.MaxDistPct
	if norm > 1.0 {
		norm = 1.0
	}

	riskScale := 1.0 - norm
	if riskScale < 0.25 {
		riskScale = 0.25
	}

	dollarAlloc := accountEquity * cfg.BaseRiskPct * riskScale
	maxDollars := accountEquity * cfg.MaxPositionPct
	if dollarAlloc > maxDollars {
		dollarAlloc = maxDollars
	}

	shares := int(dollarAlloc / price)
	if shares < 0 {
		shares = 0
	}
	return shares, nil
}
