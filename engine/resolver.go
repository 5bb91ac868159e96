package engine

// ============================================================================
// Mapping Resolver
// ============================================================================
// Resolve is a pure function of (profile, frame, disabled set). It performs no
// I/O and touches no engine state; the dispatch loop feeds its result into the
// filter and edge detector and decides what reaches the sink.
//
// Conflict rule: mappings are grouped by ControlKey. When several resolve in the
// same tick, the earliest in profile order wins outright and the rest are
// reported as shadowed. Values are never blended.
// ============================================================================

// ResolvedMapping is one eligible mapping in one tick.
type ResolvedMapping struct {
	Mapping GestureMapping
	// Raw is the processed target value: deadzone, sensitivity and invert
	// applied, clamped to the control's range.
	Raw float64
	// Shadowed is set when an earlier mapping with the same ControlKey won.
	Shadowed   bool
	ShadowedBy string

	sources []int // indexes into Frame.Results
}

// Resolution is the outcome of resolving one frame against a profile.
type Resolution struct {
	// Resolved lists eligible mappings in profile order.
	Resolved []ResolvedMapping
	// Winners maps each contested or uncontested key to the winning mapping id.
	Winners map[ControlKey]string
	// Selected holds the dominant result per hand (left, right, then none).
	Selected []GestureDetectionResult
	// Contributing holds every result that made at least one mapping eligible.
	Contributing []GestureDetectionResult
}

// handPick holds the dominant result index per hand; -1 means absent.
type handPick struct {
	left, right, none int
}

// pickHands selects the highest-confidence result per hand. Ties keep the
// first result in classifier order.
func pickHands(results []GestureDetectionResult) handPick {
	p := handPick{left: -1, right: -1, none: -1}
	better := func(cur, i int) bool {
		return cur < 0 || results[i].Confidence > results[cur].Confidence
	}
	for i, r := range results {
		switch r.Hand {
		case HandLeft:
			if better(p.left, i) {
				p.left = i
			}
		case HandRight:
			if better(p.right, i) {
				p.right = i
			}
		default:
			if better(p.none, i) {
				p.none = i
			}
		}
	}
	return p
}

// eligible reports whether m resolves against the picked hands, returning the
// input value and the contributing result indexes.
func eligible(m GestureMapping, f Frame, hp handPick) (value float64, sources []int, ok bool) {
	matches := func(i int) bool {
		return i >= 0 && f.Results[i].GestureType == m.GestureType
	}

	switch m.HandRequirement {
	case RequireLeft:
		if matches(hp.left) {
			return f.Results[hp.left].Value, []int{hp.left}, true
		}
	case RequireRight:
		if matches(hp.right) {
			return f.Results[hp.right].Value, []int{hp.right}, true
		}
	case RequireAny:
		best := -1
		for _, i := range [...]int{hp.left, hp.right, hp.none} {
			if matches(i) && (best < 0 || f.Results[i].Confidence > f.Results[best].Confidence) {
				best = i
			}
		}
		if best >= 0 {
			return f.Results[best].Value, []int{best}, true
		}
	case RequireTwoHand:
		if hp.left < 0 || hp.right < 0 || f.TwoHand == nil {
			return 0, nil, false
		}
		if matches(hp.left) || matches(hp.right) {
			return f.TwoHand.Value, []int{hp.left, hp.right}, true
		}
	}
	return 0, nil, false
}

// RawTarget computes the processed target for input value v (in [0,1]).
// Volume, eq and the global targets invert as 1-x; pan inverts as -x.
func RawTarget(m GestureMapping, v float64) float64 {
	x := deadzoneClip(v, m.Deadzone) * m.Sensitivity
	lo, hi := m.Key().bounds()
	if m.Invert {
		if m.Control == ControlPan {
			x = -x
		} else {
			x = 1 - x
		}
	}
	return clamp(x, lo, hi)
}

// Resolve runs one resolver pass. Mappings in disabled are skipped entirely.
func Resolve(p MappingProfile, f Frame, disabled map[string]bool) Resolution {
	hp := pickHands(f.Results)
	res := Resolution{Winners: make(map[ControlKey]string)}

	for _, i := range [...]int{hp.left, hp.right, hp.none} {
		if i >= 0 {
			res.Selected = append(res.Selected, f.Results[i])
		}
	}

	used := make([]bool, len(f.Results))
	for _, m := range p.Mappings {
		if disabled[m.ID] {
			continue
		}
		v, sources, ok := eligible(m, f, hp)
		if !ok {
			continue
		}
		for _, s := range sources {
			used[s] = true
		}

		rm := ResolvedMapping{Mapping: m, Raw: RawTarget(m, v), sources: sources}
		key := m.Key()
		if winner, taken := res.Winners[key]; taken {
			rm.Shadowed = true
			rm.ShadowedBy = winner
		} else {
			res.Winners[key] = m.ID
		}
		res.Resolved = append(res.Resolved, rm)
	}

	for i, u := range used {
		if u {
			res.Contributing = append(res.Contributing, f.Results[i])
		}
	}
	return res
}
