package traveltime

import (
	"strings"
	"testing"

	"github.com/couchcryptid/quake-detect/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantVelocity_PWaveAtSurface(t *testing.T) {
	m := NewConstantVelocity()
	angle := geo.ToAngle(60)
	// Chord is marginally shorter than the 60 km arc.
	assert.InDelta(t, 10.0, m.PWave(0, angle), 0.01)
}

func TestConstantVelocity_DepthOnly(t *testing.T) {
	m := NewConstantVelocity()
	assert.InDelta(t, 30.0/DefaultPVelocity, m.PWave(30, 0), 1e-9)
	assert.InDelta(t, 30.0/DefaultSVelocity, m.SWave(30, 0), 1e-9)
}

func TestConstantVelocity_NoArrival(t *testing.T) {
	m := NewConstantVelocity()
	assert.Equal(t, NoArrival, m.PWave(-1, 10))
	assert.Equal(t, NoArrival, m.PWave(DefaultMaxDepth+1, 10))
	assert.Equal(t, NoArrival, m.PWave(10, 120))
	assert.Equal(t, NoArrival, m.PKPWave(10, 150))
	assert.Equal(t, NoArrival, m.PKIKPWave(10, 150))
	assert.False(t, Valid(m.PKPWave(10, 150)))
}

const sampleTable = `depth_km,angle_deg,p,s,pkp,pkikp
0,0,0,0,,
0,10,150,270,,
10,0,1.6,2.8,,
10,10,152,274,-1,
`

func TestLoad_InterpolatesBilinearly(t *testing.T) {
	tbl, err := Load(strings.NewReader(sampleTable))
	require.NoError(t, err)

	assert.InDelta(t, 75, tbl.PWave(0, 5), 1e-9)
	assert.InDelta(t, 151, tbl.PWave(5, 10), 1e-9)
	assert.InDelta(t, (0+150+1.6+152)/4, tbl.PWave(5, 5), 1e-9)
	assert.InDelta(t, 10, tbl.MaxDepth(), 1e-9)
}

func TestLoad_MissingPhaseIsNoArrival(t *testing.T) {
	tbl, err := Load(strings.NewReader(sampleTable))
	require.NoError(t, err)
	assert.Equal(t, NoArrival, tbl.PKPWave(5, 5))
	assert.Equal(t, NoArrival, tbl.PWave(11, 5))
	assert.Equal(t, NoArrival, tbl.PWave(5, 11))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmptyTable)

	_, err = Load(strings.NewReader("0,0,1,2,,\n0,10,3,4,,\n10,0,1,2,,\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full grid")

	_, err = Load(strings.NewReader("x,0,1,2,,\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse depth")
}
