package preflight

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResult_SeverityIsWorstAcrossChecks(t *testing.T) {
	r := Result{Checks: []Check{
		{Name: "disk", Severity: SeverityOK},
		{Name: "memory", Severity: SeverityWarning},
	}}
	require.Equal(t, SeverityWarning, r.Severity())
	require.Equal(t, 2, r.ExitCode())
}

func TestResult_SeverityOKWhenAllChecksPass(t *testing.T) {
	r := Result{Checks: []Check{{Severity: SeverityOK}, {Severity: SeverityOK}}}
	require.Equal(t, SeverityOK, r.Severity())
	require.Equal(t, 0, r.ExitCode())
}

func TestResult_CriticalOutranksWarning(t *testing.T) {
	r := Result{Checks: []Check{{Severity: SeverityWarning}, {Severity: SeverityCritical}}}
	require.Equal(t, SeverityCritical, r.Severity())
	require.Equal(t, 1, r.ExitCode())
}

func TestRun_ReturnsTwoChecksWithValidSeverities(t *testing.T) {
	result := Run(t.TempDir())
	require.Len(t, result.Checks, 2)
	names := map[string]bool{}
	for _, c := range result.Checks {
		names[c.Name] = true
		require.GreaterOrEqual(t, int(c.Severity), 0)
		require.LessOrEqual(t, int(c.Severity), 2)
		require.NotEmpty(t, c.Detail)
	}
	require.True(t, names["disk"])
	require.True(t, names["memory"])
}
