package transceiver

import "testing"

func TestAntennaRangeContains(t *testing.T) {
	r := AntennaRange{Start: 4, End: 8}
	for i := 4; i < 8; i++ {
		if !r.Contains(i) {
			t.Errorf("Contains(%d) = false, want true", i)
		}
	}
	if r.Contains(3) || r.Contains(8) {
		t.Errorf("Contains should exclude the boundary indices")
	}
}

func TestDeriveMulticastAddrIsDeterministicAndInRange(t *testing.T) {
	a := deriveMulticastAddr("cell0-data")
	b := deriveMulticastAddr("cell0-data")
	if a != b {
		t.Errorf("deriveMulticastAddr is not deterministic: %q vs %q", a, b)
	}
	if a[:4] != "239." {
		t.Errorf("deriveMulticastAddr(%q) = %q, want a 239.0.0.0/8 address", "cell0-data", a)
	}
}

func TestResolveMulticastAddrAcceptsLiteralMulticastIP(t *testing.T) {
	addr, err := resolveMulticastAddr("239.10.20.30", 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.IP.String() != "239.10.20.30" || addr.Port != 5000 {
		t.Errorf("got %v, want 239.10.20.30:5000", addr)
	}
}

func TestResolveMulticastAddrFallsBackToHashDerivation(t *testing.T) {
	addr, err := resolveMulticastAddr("cell0-data", 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !addr.IP.IsMulticast() {
		t.Errorf("derived address %v is not multicast", addr.IP)
	}
}

func TestFnv1HashDeterministic(t *testing.T) {
	if fnv1Hash("x") != fnv1Hash("x") {
		t.Errorf("fnv1Hash is not deterministic")
	}
	if fnv1Hash("x") == fnv1Hash("y") {
		t.Errorf("fnv1Hash collided unexpectedly for distinct trivial inputs")
	}
}
