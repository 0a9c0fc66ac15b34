package station

import (
	"fmt"
	"sort"

	"github.com/couchcryptid/quake-detect/internal/geo"
	"github.com/jonboulle/clockwork"
)

// DefaultNearbyKm is the radius of each station's nearby table.
const DefaultNearbyKm = 300.0

// Registry is the read-only set of stations known at startup.
type Registry struct {
	stations []*Station
	byID     map[int]*Station
}

// NewRegistry builds stations from directory entries and precomputes each
// station's nearby table, sorted by distance.
func NewRegistry(infos []Info, nearbyKm float64, clock clockwork.Clock) *Registry {
	r := &Registry{byID: make(map[int]*Station, len(infos))}
	for _, info := range infos {
		if _, dup := r.byID[info.ID]; dup {
			continue
		}
		s := New(info, clock)
		r.stations = append(r.stations, s)
		r.byID[info.ID] = s
	}
	sort.Slice(r.stations, func(i, j int) bool { return r.stations[i].ID < r.stations[j].ID })

	for i, a := range r.stations {
		for j, b := range r.stations {
			if i == j {
				continue
			}
			d := geo.GreatCircleDistance(a.Lat, a.Lon, b.Lat, b.Lon)
			if d <= nearbyKm {
				a.Nearby = append(a.Nearby, Nearby{StationID: b.ID, DistanceKm: d})
			}
		}
		sort.Slice(a.Nearby, func(x, y int) bool { return a.Nearby[x].DistanceKm < a.Nearby[y].DistanceKm })
	}
	return r
}

// All returns the stations ordered by id.
func (r *Registry) All() []*Station { return r.stations }

func (r *Registry) Len() int { return len(r.stations) }

func (r *Registry) Get(id int) (*Station, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Push routes a record to its station.
func (r *Registry) Push(rec Record) error {
	s, ok := r.byID[rec.StationID]
	if !ok {
		return fmt.Errorf("station %d: %w", rec.StationID, ErrUnknownStation)
	}
	return s.Push(rec)
}
