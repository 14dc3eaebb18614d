package toolcall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveFromFragments(t *testing.T) {
	a := NewAccumulator()
	a.AddFragment("c1", `{"qu`)
	a.AddFragment("c1", `ery":"moistu`)
	a.AddFragment("c1", `rizer"}`)

	inv, err := a.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "c1", inv.CallID)
	require.Equal(t, "moisturizer", inv.Query)
	require.JSONEq(t, `{"query":"moisturizer"}`, string(inv.Arguments))
}

func TestAuthoritativeReplacesFragments(t *testing.T) {
	a := NewAccumulator()
	a.AddFragment("c1", `{"query":"par`)
	a.SetAuthoritative("c1", "search_products", `{"query":"night cream"}`)

	inv, err := a.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "search_products", inv.Name)
	require.Equal(t, "night cream", inv.Query)
	require.Equal(t, `{"query":"night cream"}`, string(inv.Arguments))
}

func TestResolveNoCallsObserved(t *testing.T) {
	a := NewAccumulator()
	require.True(t, a.Empty())

	inv, err := a.Resolve(context.Background())
	require.NoError(t, err)
	require.Nil(t, inv)
}

func TestResolveUnparseableFragments(t *testing.T) {
	a := NewAccumulator()
	a.AddFragment("c1", `{"query":"trunc`)

	inv, err := a.Resolve(context.Background())
	require.ErrorIs(t, err, ErrUnparseable)
	require.Nil(t, inv)
	require.False(t, a.Empty())
}

func TestResolveFragmentsWithoutQueryField(t *testing.T) {
	// A complete JSON object that is not an invocation shape does not
	// resolve from fragments alone.
	a := NewAccumulator()
	a.AddFragment("c1", `{"filter":"skincare"}`)

	_, err := a.Resolve(context.Background())
	require.ErrorIs(t, err, ErrUnparseable)
}

func TestResolveKeysCallsSeparately(t *testing.T) {
	// Interleaved fragments for two calls must not cross-talk; resolution
	// picks the first observed call that parses.
	a := NewAccumulator()
	a.AddFragment("c1", `{"query":"spl`)
	a.AddFragment("c2", `{"query":"toner"}`)
	a.AddFragment("c1", `it`) // still invalid JSON for c1

	inv, err := a.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "c2", inv.CallID)
	require.Equal(t, "toner", inv.Query)
}
