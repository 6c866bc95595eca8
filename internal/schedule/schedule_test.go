package schedule

import "testing"

// One cell, frame "BGPGUGDGN": pilot at slot 2, uplink at 4.
func TestPureScheduleQueries(t *testing.T) {
	s, err := Build(Schedule{Frames: [][]string{{"BGPGUGDGN"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	role, ok := s.RoleAt(0, 0, 2)
	if !ok || role != RolePilot {
		t.Fatalf("RoleAt(0,0,2) = %v,%v want 'P',true", role, ok)
	}
	if !s.IsPilot(0, 0, 2) {
		t.Errorf("IsPilot(0,0,2) = false, want true")
	}
	if got := s.ClientID(0, 0, 2); got != 0 {
		t.Errorf("ClientID(0,0,2) = %d, want 0", got)
	}
	if !s.IsData(0, 0, 4) {
		t.Errorf("IsData(0,0,4) = false, want true")
	}
}

// IsPilot/IsData are convenience predicates over RoleAt; confirm they
// agree with RoleAt across every slot of frame 0.
func TestPredicatesAgreeWithRoleAt(t *testing.T) {
	s, err := Build(Schedule{Frames: [][]string{{"BGPGUGDGN"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 9; i++ {
		role, ok := s.RoleAt(0, 0, i)
		if !ok {
			t.Fatalf("slot %d: expected ok", i)
		}
		if s.IsPilot(0, 0, i) != (role == RolePilot) {
			t.Errorf("slot %d: IsPilot disagrees with RoleAt", i)
		}
		if s.IsData(0, 0, i) != (role == RoleUplink) {
			t.Errorf("slot %d: IsData disagrees with RoleAt", i)
		}
	}
}

func TestOutOfRangeNeverPanics(t *testing.T) {
	s, err := Build(Schedule{Frames: [][]string{{"BGPGUGDGN"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.RoleAt(0, 0, 100); ok {
		t.Errorf("RoleAt out-of-range slot should return ok=false")
	}
	if _, ok := s.RoleAt(5, 0, 0); ok {
		t.Errorf("RoleAt out-of-range cell should return ok=false")
	}
	if got := s.IndexOf(0, 0, RolePilot, 100); got != -1 {
		t.Errorf("IndexOf out-of-range slot should return -1, got %d", got)
	}
	if got := s.ClientID(0, 0, 100); got != -1 {
		t.Errorf("ClientID out-of-range slot should return -1, got %d", got)
	}
}

func TestCircularFrameIndexing(t *testing.T) {
	s, err := Build(Schedule{Frames: [][]string{{"BGPG", "DGNG"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	role, ok := s.RoleAt(0, 2, 0) // 2 mod 2 = 0 -> "BGPG"
	if !ok || role != RoleBeacon {
		t.Fatalf("RoleAt(0,2,0) = %v,%v want 'B',true", role, ok)
	}
	role, ok = s.RoleAt(0, 3, 0) // 3 mod 2 = 1 -> "DGNG"
	if !ok || role != RoleDownlink {
		t.Fatalf("RoleAt(0,3,0) = %v,%v want 'D',true", role, ok)
	}
}

// Schedule consistency: count() matches the number of
// positions agreeing with role_at, for every role, across a frame.
func TestScheduleConsistency(t *testing.T) {
	frame := "BGPGUGDGNGPGUGDG"
	s, err := Build(Schedule{Frames: [][]string{{frame}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	roles := []Role{RoleBeacon, RolePilot, RoleUplink, RoleDownlink, RoleNoise, RoleGuard}
	for _, r := range roles {
		want := 0
		for i := 0; i < len(frame); i++ {
			if Role(frame[i]) == r {
				want++
			}
		}
		got := s.Count(0, 0, r)
		if got != want {
			t.Errorf("Count(role=%c) = %d, want %d", r, got, want)
		}
	}
}

func TestClientIDReciprocalModeReturnsSlotUnchanged(t *testing.T) {
	s, err := Build(Schedule{Frames: [][]string{{"GPGRR"}}, ReciprocalCalibration: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for slot := 0; slot < 5; slot++ {
		if got := s.ClientID(0, 0, slot); got != slot {
			t.Errorf("ClientID(0,0,%d) = %d, want %d (reciprocal mode passthrough)", slot, got, slot)
		}
	}
}

// Reciprocal generation with N=3, ref=1, c=2: frame length = 2*3-1 = 5.
func TestReciprocalGeneratorFrames(t *testing.T) {
	frames, err := GenerateReciprocal(3, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if len(f) != 5 {
			t.Fatalf("frame %d length = %d, want 5", i, len(f))
		}
	}

	ref := frames[1]
	if countByte(ref, 'P') != 1 || ref[2] != 'P' {
		t.Errorf("ref frame = %q, want exactly one P at offset 2", ref)
	}
	if countByte(ref, 'R') != 2 {
		t.Errorf("ref frame = %q, want exactly N-1=2 R's", ref)
	}

	f0 := frames[0]
	if countByte(f0, 'P') != 2 || f0[0] != 'P' || f0[1] != 'P' {
		t.Errorf("SDR0 frame = %q, want P's starting at offset 0", f0)
	}
	if countByte(f0, 'R') != 1 || f0[2] != 'R' {
		t.Errorf("SDR0 frame = %q, want a single R at offset c*ref=2", f0)
	}
}

func TestGenerateReciprocalValidation(t *testing.T) {
	if _, err := GenerateReciprocal(0, 0, 1); err == nil {
		t.Errorf("expected error for n<=0")
	}
	if _, err := GenerateReciprocal(3, 5, 1); err == nil {
		t.Errorf("expected error for out-of-range ref")
	}
	if _, err := GenerateReciprocal(3, 0, 0); err == nil {
		t.Errorf("expected error for c<=0")
	}
}

func countByte(s string, b byte) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			n++
		}
	}
	return n
}

func TestHasUplinkAndHasPilot(t *testing.T) {
	tests := []struct {
		frame               string
		hasUplink, hasPilot bool
	}{
		{"BGPGUGDGN", true, true},
		{"BGPGGGDGN", false, true},
		{"BGGGGGGGG", false, false},
		{"BGGGUGGGG", true, false},
	}
	for _, tt := range tests {
		s, err := Build(Schedule{Frames: [][]string{{tt.frame}}})
		if err != nil {
			t.Fatalf("Build(%q): %v", tt.frame, err)
		}
		if got := s.HasUplink(); got != tt.hasUplink {
			t.Errorf("%q: HasUplink() = %v, want %v", tt.frame, got, tt.hasUplink)
		}
		if got := s.HasPilot(); got != tt.hasPilot {
			t.Errorf("%q: HasPilot() = %v, want %v", tt.frame, got, tt.hasPilot)
		}
	}
}
