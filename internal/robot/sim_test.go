package robot

import (
	"testing"
)

func TestSimConnectionGating(t *testing.T) {
	s := NewSim([]float32{0, 0}, 1)
	if _, err := s.CaptureObservation(); err == nil {
		t.Fatal("capture must fail while disconnected")
	}
	if _, err := s.SendAction([]float32{1, 1}); err == nil {
		t.Fatal("send must fail while disconnected")
	}
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	if !s.IsConnected() {
		t.Fatal("connected flag not set")
	}
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if s.IsConnected() {
		t.Fatal("connected flag not cleared")
	}
}

func TestSimRateLimitsJointMoves(t *testing.T) {
	s := NewSim([]float32{0, 0}, 0.5)
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}

	realized, err := s.SendAction([]float32{10, -10})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if realized[0] != 0.5 || realized[1] != -0.5 {
		t.Fatalf("realized = %v, want clamped [0.5 -0.5]", realized)
	}

	// A second command keeps closing on the target at the same rate.
	realized, err = s.SendAction([]float32{10, -10})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if realized[0] != 1 || realized[1] != -1 {
		t.Fatalf("realized = %v, want [1 -1]", realized)
	}

	obs, err := s.CaptureObservation()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	state := obs["observation.state"]
	if state.Values[0] != 1 || state.Values[1] != -1 {
		t.Fatalf("state = %v, want [1 -1]", state.Values)
	}
}

func TestSimRejectsWrongActionWidth(t *testing.T) {
	s := NewSim([]float32{0, 0, 0}, 1)
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SendAction([]float32{1}); err == nil {
		t.Fatal("expected error for mismatched action width")
	}
}
