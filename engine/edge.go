package engine

// EdgeState tracks one toggle mapping (mute/solo) across ticks.
type EdgeState int

const (
	EdgeIdle EdgeState = iota
	// EdgeTriggered is the one-tick pulse that flips the toggle. Step never
	// returns it as a resting state; it passes straight through to EdgeHeld.
	EdgeTriggered
	EdgeHeld
	EdgeReleased
)

func (s EdgeState) String() string {
	switch s {
	case EdgeIdle:
		return "idle"
	case EdgeTriggered:
		return "triggered"
	case EdgeHeld:
		return "held"
	case EdgeReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Step advances the state machine given whether the gesture is eligible and
// above the trigger threshold this tick. fired is true exactly on the
// Idle -> Triggered transition.
//
//	Idle      --active-->   Triggered -> Held   (fired)
//	Held      --active-->   Held
//	Held      --inactive--> Released
//	Released  --any-->      Idle
func (s EdgeState) Step(active bool) (next EdgeState, fired bool) {
	switch s {
	case EdgeIdle:
		if active {
			return EdgeHeld, true
		}
		return EdgeIdle, false
	case EdgeTriggered, EdgeHeld:
		if active {
			return EdgeHeld, false
		}
		return EdgeReleased, false
	default:
		return EdgeIdle, false
	}
}
