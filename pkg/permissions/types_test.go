package permissions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseViewState(t *testing.T) {
	for raw, want := range map[string]ViewState{
		"inherit": StateInherit,
		"":        StateInherit,
		"allow":   StateAllow,
		"Allow":   StateAllow,
		"deny":    StateDeny,
	} {
		got, err := ParseViewState(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseViewState("granted")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseScope(t *testing.T) {
	for raw, want := range map[string]Scope{
		"none":    ScopeNone,
		"own":     ScopeOwn,
		"team":    ScopeTeam,
		"company": ScopeCompany,
		"any":     ScopeAny,
	} {
		got, err := ParseScope(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseScope("global")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestActionValid(t *testing.T) {
	assert.True(t, ActionCreate.Valid())
	assert.True(t, ActionApprove.Valid())
	assert.False(t, Action("publish").Valid())
	assert.False(t, Action("").Valid())
}

func TestFeatureKeyText(t *testing.T) {
	key := FeatureKey{FeatureID: "invoices", Action: ActionExport}
	assert.Equal(t, "invoices:export", key.String())

	var parsed FeatureKey
	require.NoError(t, parsed.UnmarshalText([]byte("invoices:export")))
	assert.Equal(t, key, parsed)

	// Feature IDs may themselves contain colons; the action is the last segment.
	require.NoError(t, parsed.UnmarshalText([]byte("billing:invoices:read")))
	assert.Equal(t, "billing:invoices", parsed.FeatureID)
	assert.Equal(t, ActionRead, parsed.Action)

	assert.Error(t, parsed.UnmarshalText([]byte("invoices")))
	assert.Error(t, parsed.UnmarshalText([]byte(":read")))
	assert.Error(t, parsed.UnmarshalText([]byte("invoices:")))
}

func TestResolvedSetRoundTrip(t *testing.T) {
	set := &ResolvedSet{
		TenantID: "t1",
		UserID:   "u1",
		Views:    map[string]struct{}{"dashboard": {}},
		Features: map[FeatureKey]Scope{
			{FeatureID: "invoices", Action: ActionRead}: ScopeTeam,
		},
	}

	data, err := json.Marshal(set)
	require.NoError(t, err)

	var decoded ResolvedSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.CanView("dashboard"))

	scope, ok := decoded.FeatureScope("invoices", ActionRead)
	require.True(t, ok)
	assert.Equal(t, ScopeTeam, scope)
}

func TestResolvedSetViewIDsSorted(t *testing.T) {
	set := &ResolvedSet{Views: map[string]struct{}{"reports": {}, "admin": {}, "dashboard": {}}}
	assert.Equal(t, []string{"admin", "dashboard", "reports"}, set.ViewIDs())
}
