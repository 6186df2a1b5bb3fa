// Package robot declares the contract the real-time rollout loop places on a
// physical arm. Hardware drivers are external collaborators behind this
// interface.
package robot

import (
	"github.com/robolab/roboeval/internal/envs"
)

// Robot is one physical (or simulated twin) robot arm.
type Robot interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	// CaptureObservation reads all sensor channels. Tensors are
	// single-instance: images [H, W, 3] in [0, 255], numeric channels 1-D.
	CaptureObservation() (envs.Observation, error)
	// SendAction commands the arm and returns the realized action, which may
	// differ from the request due to joint limits.
	SendAction(action []float32) ([]float32, error)
}
