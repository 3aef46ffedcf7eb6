// Package preflight runs disk-space and memory checks before the daily
// cycle starts, feeding the `--config-check` CLI contract: exit 0 (PASS),
// 1 (FAIL), or 2 (WARN).
// Grounded on a monitoring service's disk-space-alert severity tiers and
// a system handler's mem.VirtualMemory usage, both
// translated from that repo's alert-feed model onto gopsutil/v3 and a
// single synchronous exit-code result.
package preflight

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Severity ranks a check's outcome from least to most severe. It is
// deliberately NOT the same as the --config-check exit code: the CLI
// contract fixes that as 0=PASS/1=FAIL/2=WARN, an unconventional ordering
// where the "fail" exit code is lower than the "warn" one. ExitCode()
// below is the one place that mapping happens.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityCritical
)

// Thresholds for disk free space, carried directly from
// checkDiskSpaceAlerts's GB tiers (critical halts below 0.5GB there; this
// package treats that tier as SeverityCritical and the 5GB tier as
// SeverityWarning since --config-check only distinguishes two degraded
// levels, not three; the 10GB tier is not carried, so 5GB or more free
// is SeverityOK).
const (
	diskCriticalFreeGB = 0.5
	diskWarningFreeGB  = 5.0

	memWarningUsedPct  = 90.0
	memCriticalUsedPct = 97.0
)

// Check is one preflight finding.
type Check struct {
	Name     string
	Severity Severity
	Detail   string
}

// Result is the full preflight report.
type Result struct {
	Checks []Check
}

// Severity returns the worst severity across all checks.
func (r Result) Severity() Severity {
	worst := SeverityOK
	for _, c := range r.Checks {
		if c.Severity > worst {
			worst = c.Severity
		}
	}
	return worst
}

// ExitCode maps Result.Severity() onto the --config-check exit
// code contract: 0=PASS, 1=FAIL, 2=WARN. SeverityCritical is the "fail"
// outcome (exit 1) and SeverityWarning is the "warn" outcome (exit 2) —
// note this inverts the numeric order of Severity itself.
func (r Result) ExitCode() int {
	switch r.Severity() {
	case SeverityCritical:
		return 1
	case SeverityWarning:
		return 2
	default:
		return 0
	}
}

// Run performs the disk and memory checks for dataDir and returns a Result.
// It never returns an error: a failed system-stat call is itself reported
// as a SeverityCritical check rather than aborting the run.
func Run(dataDir string) Result {
	return Result{Checks: []Check{
		checkDisk(dataDir),
		checkMemory(),
	}}
}

func checkDisk(dataDir string) Check {
	usage, err := disk.Usage(dataDir)
	if err != nil {
		return Check{Name: "disk", Severity: SeverityCritical, Detail: fmt.Sprintf("disk stat failed: %v", err)}
	}

	freeGB := float64(usage.Free) / 1e9
	switch {
	case freeGB < diskCriticalFreeGB:
		return Check{Name: "disk", Severity: SeverityCritical,
			Detail: fmt.Sprintf("%.2fGB free, below critical threshold %.1fGB", freeGB, diskCriticalFreeGB)}
	case freeGB < diskWarningFreeGB:
		return Check{Name: "disk", Severity: SeverityWarning,
			Detail: fmt.Sprintf("%.2fGB free, below warning threshold %.1fGB", freeGB, diskWarningFreeGB)}
	default:
		return Check{Name: "disk", Severity: SeverityOK, Detail: fmt.Sprintf("%.2fGB free", freeGB)}
	}
}

func checkMemory() Check {
	stat, err := mem.VirtualMemory()
	if err != nil {
		return Check{Name: "memory", Severity: SeverityCritical, Detail: fmt.Sprintf("memory stat failed: %v", err)}
	}

	switch {
	case stat.UsedPercent >= memCriticalUsedPct:
		return Check{Name: "memory", Severity: SeverityCritical,
			Detail: fmt.Sprintf("%.1f%% used, at or above critical threshold %.1f%%", stat.UsedPercent, memCriticalUsedPct)}
	case stat.UsedPercent >= memWarningUsedPct:
		return Check{Name: "memory", Severity: SeverityWarning,
			Detail: fmt.Sprintf("%.1f%% used, at or above warning threshold %.1f%%", stat.UsedPercent, memWarningUsedPct)}
	default:
		return Check{Name: "memory", Severity: SeverityOK, Detail: fmt.Sprintf("%.1f%% used", stat.UsedPercent)}
	}
}
