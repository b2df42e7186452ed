package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeViewStatesDenyWins(t *testing.T) {
	assert.Equal(t, StateDeny, MergeViewStates(StateDeny, StateAllow))
	assert.Equal(t, StateDeny, MergeViewStates(StateAllow, StateDeny))
	assert.Equal(t, StateDeny, MergeViewStates(StateDeny, StateInherit))
	assert.Equal(t, StateDeny, MergeViewStates(StateDeny, StateDeny))
}

func TestMergeViewStatesAllowBeatsInherit(t *testing.T) {
	assert.Equal(t, StateAllow, MergeViewStates(StateAllow, StateInherit))
	assert.Equal(t, StateAllow, MergeViewStates(StateInherit, StateAllow))
	assert.Equal(t, StateInherit, MergeViewStates(StateInherit, StateInherit))
}

func TestMergeViewStatesCommutative(t *testing.T) {
	states := []ViewState{StateInherit, StateAllow, StateDeny}
	for _, a := range states {
		for _, b := range states {
			assert.Equal(t, MergeViewStates(a, b), MergeViewStates(b, a),
				"merge(%s, %s) must be order independent", a, b)
		}
	}
}

func TestMergeViewStatesAssociative(t *testing.T) {
	states := []ViewState{StateInherit, StateAllow, StateDeny}
	for _, a := range states {
		for _, b := range states {
			for _, c := range states {
				left := MergeViewStates(MergeViewStates(a, b), c)
				right := MergeViewStates(a, MergeViewStates(b, c))
				assert.Equal(t, left, right)
			}
		}
	}
}

func TestMergeFeatureDenyOverridesAllow(t *testing.T) {
	cur := mergeFeature(featureDecision{}, FeaturePermission{State: StateAllow, Scope: ScopeAny})
	cur = mergeFeature(cur, FeaturePermission{State: StateDeny})
	assert.Equal(t, StateDeny, cur.state)

	// A later allow cannot resurrect a denied grant.
	cur = mergeFeature(cur, FeaturePermission{State: StateAllow, Scope: ScopeAny})
	assert.Equal(t, StateDeny, cur.state)
	assert.Equal(t, ScopeNone, cur.scope)
}

func TestMergeFeatureWidestScopeWins(t *testing.T) {
	cur := mergeFeature(featureDecision{}, FeaturePermission{State: StateAllow, Scope: ScopeOwn})
	cur = mergeFeature(cur, FeaturePermission{State: StateAllow, Scope: ScopeCompany})
	assert.Equal(t, StateAllow, cur.state)
	assert.Equal(t, ScopeCompany, cur.scope)

	// Narrower grants never shrink the running scope.
	cur = mergeFeature(cur, FeaturePermission{State: StateAllow, Scope: ScopeTeam})
	assert.Equal(t, ScopeCompany, cur.scope)
}

func TestMergeFeatureInheritContributesNothing(t *testing.T) {
	cur := mergeFeature(featureDecision{}, FeaturePermission{State: StateInherit})
	assert.Equal(t, StateInherit, cur.state)

	cur = mergeFeature(featureDecision{state: StateAllow, scope: ScopeTeam}, FeaturePermission{State: StateInherit})
	assert.Equal(t, StateAllow, cur.state)
	assert.Equal(t, ScopeTeam, cur.scope)
}

func TestWider(t *testing.T) {
	assert.Equal(t, ScopeAny, Wider(ScopeOwn, ScopeAny))
	assert.Equal(t, ScopeAny, Wider(ScopeAny, ScopeOwn))
	assert.Equal(t, ScopeTeam, Wider(ScopeTeam, ScopeTeam))
	assert.Equal(t, ScopeOwn, Wider(ScopeNone, ScopeOwn))
}
