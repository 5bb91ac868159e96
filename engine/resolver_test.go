package engine

import (
	"math"
	"testing"
)

func TestRawTarget_Clamping(t *testing.T) {
	controls := []struct {
		control ControlType
		lo, hi  float64
	}{
		{ControlVolume, 0, 1},
		{ControlEQ, 0, 1},
		{ControlPan, -1, 1},
	}
	for _, c := range controls {
		for _, sens := range []float64{0.01, 1, 7.5, 1e6} {
			for _, inv := range []bool{false, true} {
				for _, v := range []float64{0, 0.05, 0.5, 0.99, 1} {
					m := mapping("m", GesturePinch, RequireAny, "vocals", c.control)
					m.Band = EQMid
					m.Sensitivity = sens
					m.Invert = inv
					m.Deadzone = 0.1
					got := RawTarget(m, v)
					if got < c.lo || got > c.hi || math.IsNaN(got) {
						t.Fatalf("%s sens=%v invert=%v v=%v: %v outside [%v,%v]", c.control, sens, inv, v, got, c.lo, c.hi)
					}
				}
			}
		}
	}
}

func TestRawTarget_Invert(t *testing.T) {
	vol := mapping("v", GesturePinch, RequireAny, "vocals", ControlVolume)
	vol.Invert = true
	if got := RawTarget(vol, 0.25); got != 0.75 {
		t.Fatalf("inverted volume = %v, want 0.75", got)
	}
	pan := mapping("p", GesturePinch, RequireAny, "vocals", ControlPan)
	pan.Invert = true
	if got := RawTarget(pan, 0.25); got != -0.25 {
		t.Fatalf("inverted pan = %v, want -0.25", got)
	}
}

func TestResolve_EarliestMappingWins(t *testing.T) {
	p := profile("p",
		mapping("a", GesturePinch, RequireLeft, "drums", ControlVolume),
		mapping("b", GestureFist, RequireRight, "drums", ControlVolume),
		mapping("c", GestureFist, RequireRight, "drums", ControlPan),
	)
	res := Resolve(p, frame(
		result(GesturePinch, HandLeft, 0.8, 0.9),
		result(GestureFist, HandRight, 0.3, 0.9),
	), nil)

	if len(res.Resolved) != 3 {
		t.Fatalf("expected 3 resolved mappings, got %d", len(res.Resolved))
	}
	if res.Resolved[0].Shadowed {
		t.Fatalf("a should win")
	}
	if !res.Resolved[1].Shadowed || res.Resolved[1].ShadowedBy != "a" {
		t.Fatalf("b should be shadowed by a: %+v", res.Resolved[1])
	}
	if res.Resolved[2].Shadowed {
		t.Fatalf("c targets a different control and must not be shadowed")
	}
	if res.Winners[ControlKey{Target: "drums", Control: ControlVolume}] != "a" {
		t.Fatalf("winners = %v", res.Winners)
	}
}

func TestResolve_DisabledMappingDoesNotShadow(t *testing.T) {
	p := profile("p",
		mapping("a", GesturePinch, RequireLeft, "drums", ControlVolume),
		mapping("b", GesturePinch, RequireLeft, "drums", ControlVolume),
	)
	res := Resolve(p, frame(result(GesturePinch, HandLeft, 0.8, 0.9)), map[string]bool{"a": true})
	if len(res.Resolved) != 1 || res.Resolved[0].Mapping.ID != "b" || res.Resolved[0].Shadowed {
		t.Fatalf("expected b to win alone, got %+v", res.Resolved)
	}
}

func TestResolve_HighestConfidencePerHand(t *testing.T) {
	p := profile("p",
		mapping("pinch", GesturePinch, RequireLeft, "vocals", ControlVolume),
		mapping("fist", GestureFist, RequireLeft, "drums", ControlVolume),
	)
	res := Resolve(p, frame(
		result(GesturePinch, HandLeft, 0.5, 0.6),
		result(GestureFist, HandLeft, 0.5, 0.9),
	), nil)
	if len(res.Resolved) != 1 || res.Resolved[0].Mapping.ID != "fist" {
		t.Fatalf("expected only the dominant left-hand gesture to resolve, got %+v", res.Resolved)
	}
	if len(res.Selected) != 1 || res.Selected[0].GestureType != GestureFist {
		t.Fatalf("selected = %+v", res.Selected)
	}
}

func TestResolve_HandRequirements(t *testing.T) {
	left := result(GesturePeace, HandLeft, 0.4, 0.7)
	right := result(GesturePeace, HandRight, 0.6, 0.8)
	none := result(GesturePeace, HandNone, 0.9, 0.99)

	cases := []struct {
		name  string
		hand  HandRequirement
		frame Frame
		ok    bool
		raw   float64
	}{
		{"left matches left", RequireLeft, frame(left, right), true, 0.4},
		{"right matches right", RequireRight, frame(left, right), true, 0.6},
		{"left absent", RequireLeft, frame(right), false, 0},
		{"any picks most confident", RequireAny, frame(left, right), true, 0.6},
		{"none only for any", RequireLeft, frame(none), false, 0},
		{"any accepts none", RequireAny, frame(none), true, 0.9},
		{"two-hand needs signal", RequireTwoHand, frame(left, right), false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := profile("p", mapping("m", GesturePeace, tc.hand, "bass", ControlVolume))
			res := Resolve(p, tc.frame, nil)
			if (len(res.Resolved) == 1) != tc.ok {
				t.Fatalf("eligible = %v, want %v", len(res.Resolved) == 1, tc.ok)
			}
			if tc.ok && res.Resolved[0].Raw != tc.raw {
				t.Fatalf("raw = %v, want %v", res.Resolved[0].Raw, tc.raw)
			}
		})
	}
}

func TestResolve_TwoHandUsesDerivedSignal(t *testing.T) {
	p := profile("p", mapping("xf", GestureSpread, RequireTwoHand, TargetCrossfader, ControlVolume))
	f := frame(result(GestureFist, HandLeft, 0.1, 0.9), result(GestureSpread, HandRight, 0.2, 0.7))
	f.TwoHand = &TwoHandSignal{Value: 0.65, Confidence: 0.8}

	res := Resolve(p, f, nil)
	if len(res.Resolved) != 1 || res.Resolved[0].Raw != 0.65 {
		t.Fatalf("expected two-hand value 0.65, got %+v", res.Resolved)
	}
	if len(res.Contributing) != 2 {
		t.Fatalf("both hands should contribute, got %d", len(res.Contributing))
	}

	f.Results[1].GestureType = GestureFist
	if res := Resolve(p, f, nil); len(res.Resolved) != 0 {
		t.Fatalf("two-hand mapping resolved without a matching hand")
	}
}
