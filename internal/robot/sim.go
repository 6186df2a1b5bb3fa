package robot

import (
	"fmt"
	"sync"

	"github.com/emer/etable/etensor"

	"github.com/robolab/roboeval/internal/envs"
)

// Sim is a kinematic stand-in for a real arm: joints move toward commanded
// targets with a per-cycle rate limit. It lets the real-time loop run without
// hardware attached.
type Sim struct {
	mu        sync.Mutex
	joints    []float32
	maxDelta  float32
	connected bool
}

func NewSim(initial []float32, maxDelta float32) *Sim {
	if maxDelta <= 0 {
		maxDelta = 5
	}
	return &Sim{
		joints:   append([]float32(nil), initial...),
		maxDelta: maxDelta,
	}
}

func (s *Sim) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *Sim) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) CaptureObservation() (envs.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("sim robot is not connected")
	}
	state := etensor.NewFloat32([]int{len(s.joints)}, nil, nil)
	copy(state.Values, s.joints)
	return envs.Observation{"observation.state": state}, nil
}

func (s *Sim) SendAction(action []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("sim robot is not connected")
	}
	if len(action) != len(s.joints) {
		return nil, fmt.Errorf("action has %d elements, robot has %d joints", len(action), len(s.joints))
	}
	realized := make([]float32, len(action))
	for i, target := range action {
		delta := target - s.joints[i]
		if delta > s.maxDelta {
			delta = s.maxDelta
		} else if delta < -s.maxDelta {
			delta = -s.maxDelta
		}
		s.joints[i] += delta
		realized[i] = s.joints[i]
	}
	return realized, nil
}
