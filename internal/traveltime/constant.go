package traveltime

import "github.com/couchcryptid/quake-detect/internal/geo"

// Default velocities for the constant-velocity model in km/s.
const (
	DefaultPVelocity = 6.0
	DefaultSVelocity = 3.5
	DefaultMaxDepth  = 750.0

	// Direct phases are not modeled past this angle.
	maxDirectAngle = 100.0
)

// ConstantVelocity is a homogeneous-earth model: waves travel along the
// straight chord between hypocenter and station at a fixed velocity. It has
// no core phases.
type ConstantVelocity struct {
	VP, VS     float64
	MaxDepthKm float64
}

// NewConstantVelocity returns a model with the default velocities.
func NewConstantVelocity() *ConstantVelocity {
	return &ConstantVelocity{VP: DefaultPVelocity, VS: DefaultSVelocity, MaxDepthKm: DefaultMaxDepth}
}

func (m *ConstantVelocity) PWave(depth, angle float64) float64 {
	return m.direct(depth, angle, m.VP)
}

func (m *ConstantVelocity) SWave(depth, angle float64) float64 {
	return m.direct(depth, angle, m.VS)
}

func (m *ConstantVelocity) PKPWave(float64, float64) float64   { return NoArrival }
func (m *ConstantVelocity) PKIKPWave(float64, float64) float64 { return NoArrival }

func (m *ConstantVelocity) MaxDepth() float64 { return m.MaxDepthKm }

func (m *ConstantVelocity) direct(depth, angle, velocity float64) float64 {
	if depth < 0 || depth > m.MaxDepthKm || angle < 0 || angle > maxDirectAngle || velocity <= 0 {
		return NoArrival
	}
	return geo.GeologicalDistance(0, 0, -depth, 0, angle, 0) / velocity
}
