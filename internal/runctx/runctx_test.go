package runctx

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewRunID_ProducesDistinctUUIDs(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	require.NotEqual(t, a, b)
	require.Len(t, a, 36)
}

func TestRunID_EmptyWithoutContextValue(t *testing.T) {
	require.Equal(t, "", RunID(context.Background()))
}

func TestWithRunID_RoundTrips(t *testing.T) {
	ctx := WithRunID(context.Background(), "fixed-id")
	require.Equal(t, "fixed-id", RunID(ctx))
}

func TestLogger_UnscopedWithoutRunID(t *testing.T) {
	base := zerolog.Nop()
	scoped := Logger(context.Background(), base)
	require.Equal(t, base, scoped)
}

func TestStartRun_AttachesRunIDToContextAndLogger(t *testing.T) {
	ctx, _ := StartRun(context.Background(), zerolog.Nop())
	id := RunID(ctx)
	require.NotEmpty(t, id)
	require.Len(t, id, 36)
}
