package exitmgmt

import "time"

// SessionPhase names the Eastern-time trading window a stop decision is
// evaluated in, implemented in this package's existing NY-timezone idiom.
type SessionPhase string

const (
	PhaseOpenNoise     SessionPhase = "OPEN_NOISE"
	PhaseEarlyTrend    SessionPhase = "EARLY_TREND"
	PhaseNormalSession SessionPhase = "NORMAL_SESSION"
	PhaseCloseProtect  SessionPhase = "CLOSE_PROTECT"
)

// ResolveSessionPhase classifies t into the Eastern-time session window.
// Outside 09:30-16:00 NY falls back to OPEN_NOISE, matching the table's
// "else" row treating pre/post market the same as the opening-noise window.
func ResolveSessionPhase(t time.Time) SessionPhase {
	ny := t.In(nyLocation)
	minutes := ny.Hour()*60 + ny.Minute()
	switch {
	case minutes >= 9*60+30 && minutes < 9*60+45:
		return PhaseOpenNoise
	case minutes >= 9*60+45 && minutes < 10*60+15:
		return PhaseEarlyTrend
	case minutes >= 10*60+15 && minutes < 15*60+30:
		return PhaseNormalSession
	case minutes >= 15*60+30 && minutes < 16*60:
		return PhaseCloseProtect
	default:
		return PhaseOpenNoise
	}
}

// AllowsIntradayStop reports whether phase permits resolving an intraday
// higher-low stop at all; OPEN_NOISE forces the daily fallback only.
func AllowsIntradayStop(phase SessionPhase) bool {
	return phase != PhaseOpenNoise
}

// AllowsRatchet reports whether phase permits raising an already-set stop.
func AllowsRatchet(phase SessionPhase) bool {
	return phase != PhaseOpenNoise
}

// isTooClose reports whether candidateStop sits within minDistancePct of
// currentPrice — too tight to survive normal intraday noise. A
// non-positive minDistancePct (the default) disables the guardrail.
func isTooClose(candidateStop, currentPrice, minDistancePct float64) bool {
	if currentPrice <= 0 || minDistancePct <= 0 {
		return false
	}
	distance := (currentPrice - candidateStop) / currentPrice
	return distance < minDistancePct
}

// isTooEarly reports whether now is too close to entryTs, or too few
// intraday bars have accumulated, to trust a structural stop yet. A
// non-positive minSinceEntry disables the time-based half of the check.
func isTooEarly(now, entryTs time.Time, minSinceEntry time.Duration, intradayBarCount, minBars int) bool {
	if minSinceEntry > 0 && now.Sub(entryTs) < minSinceEntry {
		return true
	}
	if minBars > 0 && intradayBarCount < minBars {
		return true
	}
	return false
}
