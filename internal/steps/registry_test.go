package steps

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stepdriver/host/internal/hosterr"
)

func TestRegistry_matchesFirstRegisteredOnAmbiguity(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("driver-a", Definition{Pattern: `I click "(.*)"`, Action: "click"}))
	require.NoError(t, r.Register("driver-b", Definition{Pattern: `I click "(.*)"`, Action: "click-alt"}))

	res, err := r.Match(`I click "submit"`)
	require.NoError(t, err)
	require.Equal(t, "driver-a", res.DriverID, "expected first-registered definition to win")
	require.Equal(t, "click", res.Action)
	require.Equal(t, 1, res.AmbiguousCount)
	require.Equal(t, "submit", res.Args[0])
}

func TestRegistry_unmatchedStepCarriesSuggestions(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("driver-a", Definition{Pattern: `I click "(.*)"`, Action: "click"}))
	require.NoError(t, r.Register("driver-a", Definition{Pattern: `I clack "(.*)"`, Action: "clack"}))

	_, err := r.Match(`I clock "submit"`)
	require.Error(t, err)
	var unmatched *hosterr.UnmatchedStep
	require.ErrorAs(t, err, &unmatched)
	require.NotEmpty(t, unmatched.Suggestions)
}

func TestRegistry_definitionsPreservesRegistrationOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", Definition{Pattern: "one"}))
	require.NoError(t, r.Register("b", Definition{Pattern: "two"}))
	require.NoError(t, r.Register("c", Definition{Pattern: "three"}))

	defs := r.Definitions()
	require.Len(t, defs, 3)
	require.Equal(t, "a", defs[0].DriverID)
	require.Equal(t, "b", defs[1].DriverID)
	require.Equal(t, "c", defs[2].DriverID)
}

func TestRegistry_unbalancedPatternIsAcceptedAtRegistration(t *testing.T) {
	r := New()
	err := r.Register("a", Definition{Pattern: `I click "(unterminated`})
	require.NoError(t, err, "unbalanced parens degrade gracefully rather than erroring")
}
