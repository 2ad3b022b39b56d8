package env

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetTrimsAndFallsBack(t *testing.T) {
	t.Setenv("FULFILLMENT_ENV_TEST", "  console ")
	require.Equal(t, "console", Get("FULFILLMENT_ENV_TEST", "json"))

	t.Setenv("FULFILLMENT_ENV_TEST", "   ")
	require.Equal(t, "json", Get("FULFILLMENT_ENV_TEST", "json"))
}

func TestBool(t *testing.T) {
	t.Setenv("FULFILLMENT_ENV_BOOL", "true")
	require.True(t, Bool("FULFILLMENT_ENV_BOOL", false))

	t.Setenv("FULFILLMENT_ENV_BOOL", "nope")
	require.True(t, Bool("FULFILLMENT_ENV_BOOL", true))

	t.Setenv("FULFILLMENT_ENV_BOOL", "")
	require.False(t, Bool("FULFILLMENT_ENV_BOOL", false))
}
