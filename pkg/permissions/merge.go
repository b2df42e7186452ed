package permissions

// featureDecision is the in-flight merge state for one (feature, action).
type featureDecision struct {
	state ViewState
	scope Scope
}

// MergeViewStates combines two view decisions for the same view across
// levels. Deny beats allow, allow beats inherit. The operation is commutative
// and associative, so merging a user's levels in any order yields the same
// result.
func MergeViewStates(a, b ViewState) ViewState {
	switch {
	case a == StateDeny || b == StateDeny:
		return StateDeny
	case a == StateAllow || b == StateAllow:
		return StateAllow
	default:
		return StateInherit
	}
}

// mergeFeature folds one feature permission row into the running decision.
// Deny overrides any grant; among allows the widest scope wins; inherit rows
// contribute nothing.
func mergeFeature(cur featureDecision, row FeaturePermission) featureDecision {
	switch row.State {
	case StateDeny:
		return featureDecision{state: StateDeny}
	case StateAllow:
		if cur.state == StateDeny {
			return cur
		}
		return featureDecision{state: StateAllow, scope: Wider(cur.scope, row.Scope)}
	case StateInherit:
		return cur
	default:
		return cur
	}
}
