package domain

import (
	"testing"
	"time"

	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPicks(t *testing.T, n int) []*station.Pick {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	out := make([]*station.Pick, n)
	for i := range out {
		s := station.New(station.Info{ID: i + 1, Lat: float64(i), Lon: float64(2 * i)}, clock)
		out[i] = s.AddArrival(1_000_000, 20)
	}
	return out
}

func TestCluster_AssignClaimsPick(t *testing.T) {
	picks := testPicks(t, 2)
	c := NewCluster(7, 0)

	require.True(t, c.Assign(picks[0]))
	assert.Equal(t, 7, picks[0].ClusterID())
	assert.True(t, c.Has(picks[0].StationID()))
	assert.Equal(t, 1, c.Size())
}

func TestCluster_AssignRejectsTakenSlot(t *testing.T) {
	picks := testPicks(t, 1)
	clock := clockwork.NewFakeClock()
	sameStation := station.New(station.Info{ID: picks[0].StationID()}, clock).AddArrival(5, 5)

	c := NewCluster(1, 0)
	require.True(t, c.Assign(picks[0]))
	assert.False(t, c.Assign(sameStation))
	assert.Equal(t, station.NoCluster, sameStation.ClusterID())
}

func TestCluster_ReleaseClearsOwner(t *testing.T) {
	picks := testPicks(t, 1)
	c := NewCluster(1, 0)
	c.Assign(picks[0])
	c.Release(picks[0].StationID())

	assert.Zero(t, c.Size())
	assert.Equal(t, station.NoCluster, picks[0].ClusterID())
}

func TestCluster_ReleaseKeepsNewOwner(t *testing.T) {
	picks := testPicks(t, 1)
	a, b := NewCluster(1, 0), NewCluster(2, 0)
	a.Assign(picks[0])
	a.Detach(picks[0].StationID())
	b.Assign(picks[0])
	a.Release(picks[0].StationID())
	assert.Equal(t, 2, picks[0].ClusterID())
}

func TestCluster_PicksOrderedByStation(t *testing.T) {
	picks := testPicks(t, 4)
	c := NewCluster(1, 0)
	for i := len(picks) - 1; i >= 0; i-- {
		c.Assign(picks[i])
	}
	got := c.Picks()
	for i := range got {
		assert.Equal(t, i+1, got[i].StationID())
	}
}

func TestCluster_CalculateRootSeedsAnchor(t *testing.T) {
	picks := testPicks(t, 3)
	c := NewCluster(1, 0)
	for _, p := range picks {
		c.Assign(p)
	}
	c.CalculateRoot()

	lat, lon := c.Root()
	assert.InDelta(t, 1.0, lat, 1e-12)
	assert.InDelta(t, 2.0, lon, 1e-12)
	alat, alon := c.Anchor()
	assert.InDelta(t, lat, alat, 1e-12)
	assert.InDelta(t, lon, alon, 1e-12)
}

func TestCluster_AcceptMovesAnchorAndBumpsRevision(t *testing.T) {
	c := NewCluster(1, 0)
	h1 := &Hypocenter{PreliminaryHypocenter: PreliminaryHypocenter{Lat: 5, Lon: 6}}
	h2 := &Hypocenter{PreliminaryHypocenter: PreliminaryHypocenter{Lat: 7, Lon: 8}}

	assert.Nil(t, c.Accept(h1, 10))
	assert.Same(t, h1, c.Accept(h2, 20))
	assert.Equal(t, 2, c.Revision())
	lat, lon := c.Anchor()
	assert.Equal(t, 7.0, lat)
	assert.Equal(t, 8.0, lon)
	assert.Equal(t, int64(20), c.LastUpdateMs())
}

func TestCluster_MarkSearchedTracksSignature(t *testing.T) {
	picks := testPicks(t, 4)
	c := NewCluster(1, 0)
	for _, p := range picks[:3] {
		c.Assign(p)
	}
	sig := c.Signature()
	require.True(t, c.SearchPending(sig))
	c.MarkSearched(sig)
	assert.False(t, c.SearchPending(c.Signature()))

	c.Assign(picks[3])
	assert.True(t, c.SearchPending(c.Signature()))
}

func TestCluster_SignatureChangesOnSWave(t *testing.T) {
	picks := testPicks(t, 4)
	c := NewCluster(1, 0)
	for _, p := range picks {
		c.Assign(p)
	}
	sig := c.Signature()
	c.MarkSearched(sig)

	picks[2].MarkSWave(9)
	reclassified := c.Signature()
	assert.NotEqual(t, sig, reclassified)
	assert.True(t, c.SearchPending(reclassified))

	picks[2].ClearSWave()
	assert.Equal(t, sig, c.Signature())
}

func TestCluster_ThrottleRevision(t *testing.T) {
	c := NewCluster(1, 0)
	assert.True(t, c.ThrottleRevision(10, 24))
	assert.True(t, c.ThrottleRevision(24, 24))
	assert.False(t, c.ThrottleRevision(25, 24), "next report at 28")
	assert.True(t, c.ThrottleRevision(28, 24))
	assert.False(t, c.ThrottleRevision(30, 24))
}

func TestCluster_Snapshot(t *testing.T) {
	picks := testPicks(t, 2)
	c := NewCluster(3, 0)
	c.Assign(picks[1])
	c.Assign(picks[0])
	q := NewEarthquake(c, 0)
	c.SetEarthquake(q)

	snap := c.Snapshot()
	assert.Equal(t, []int{1, 2}, snap.StationIDs)
	assert.Equal(t, q.ID.String(), snap.QuakeID)
}

func TestCluster_SearchPendingDoesNotMark(t *testing.T) {
	picks := testPicks(t, 4)
	c := NewCluster(1, 0)
	for _, p := range picks {
		c.Assign(p)
	}
	sig := c.Signature()
	assert.True(t, c.SearchPending(sig))
	assert.True(t, c.SearchPending(sig))
	c.MarkSearched(sig)
	assert.False(t, c.SearchPending(sig))
}

func TestCluster_RefreshMagnitudeKeepsRevision(t *testing.T) {
	c := NewCluster(1, 0)
	c.RefreshMagnitude(5, nil)
	assert.Nil(t, c.Previous())

	first := &Hypocenter{PreliminaryHypocenter: PreliminaryHypocenter{Lat: 1, Lon: 2}, Magnitude: 3}
	c.Accept(first, 10)
	c.RefreshMagnitude(4.5, []MagnitudeReading{{Magnitude: 4.5, DistanceKm: 10}})

	got := c.Previous()
	assert.InDelta(t, 4.5, got.Magnitude, 1e-9)
	assert.InDelta(t, 3.0, first.Magnitude, 1e-9, "accepted value must not be mutated")
	assert.Equal(t, 1, c.Revision())
}

func TestCluster_MarkDropped(t *testing.T) {
	c := NewCluster(1, 0)
	assert.False(t, c.Dropped())
	c.MarkDropped()
	assert.True(t, c.Dropped())
}
