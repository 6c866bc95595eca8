package affinity

import "testing"

func TestDecideDisablesPinningWhenCoresScarce(t *testing.T) {
	d, err := Decide(1, 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Cores <= 0 {
		t.Fatalf("Cores = %d, want > 0", d.Cores)
	}
	want := d.Cores >= 1+1+1+1
	if d.Enabled != want {
		t.Errorf("Enabled = %v, want %v (cores=%d)", d.Enabled, want, d.Cores)
	}
}

func TestDecideDisablesWhenRequirementExceedsAnyRealHost(t *testing.T) {
	d, err := Decide(1_000_000, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Enabled {
		t.Errorf("Enabled = true, want false when requirement vastly exceeds available cores")
	}
}

func TestPinOnInvalidCoreDoesNotPanic(t *testing.T) {
	defer Unpin()
	Pin(-1) // negative core index means "lock thread only, no pin attempt"
}
