package traveltime

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

var ErrEmptyTable = errors.New("travel-time table has no rows")

const (
	colDepth = iota
	colAngle
	colP
	colS
	colPKP
	colPKIKP
	numColumns
)

// Table is a travel-time model backed by a precomputed regular grid that is
// bilinearly interpolated between nodes.
type Table struct {
	depths []float64
	angles []float64
	// phases[phase][depthIndex][angleIndex]
	phases [4][][]float64
}

// LoadFile reads a table from a CSV file.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open travel-time table: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses CSV rows of depth_km,angle_deg,p,s,pkp,pkikp. The header row is
// optional. Empty or negative cells mean the phase has no arrival there.
// Every (depth, angle) pair of the grid must be present.
func Load(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numColumns
	cr.TrimLeadingSpace = true

	type row struct {
		depth, angle float64
		values       [4]float64
	}
	var rows []row
	depthSet := map[float64]struct{}{}
	angleSet := map[float64]struct{}{}

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read travel-time table: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[colDepth]), "depth_km") {
			continue
		}
		var rw row
		if rw.depth, err = strconv.ParseFloat(rec[colDepth], 64); err != nil {
			return nil, fmt.Errorf("line %d: parse depth: %w", line, err)
		}
		if rw.angle, err = strconv.ParseFloat(rec[colAngle], 64); err != nil {
			return nil, fmt.Errorf("line %d: parse angle: %w", line, err)
		}
		for i := range rw.values {
			rw.values[i], err = parseCell(rec[colP+i])
			if err != nil {
				return nil, fmt.Errorf("line %d: parse phase %d: %w", line, i, err)
			}
		}
		rows = append(rows, rw)
		depthSet[rw.depth] = struct{}{}
		angleSet[rw.angle] = struct{}{}
	}
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}

	t := &Table{depths: sortedKeys(depthSet), angles: sortedKeys(angleSet)}
	if len(t.depths) < 2 || len(t.angles) < 2 {
		return nil, fmt.Errorf("travel-time table needs at least 2 depths and 2 angles, got %d and %d", len(t.depths), len(t.angles))
	}
	if len(rows) != len(t.depths)*len(t.angles) {
		return nil, fmt.Errorf("travel-time table is not a full grid: %d rows for %d depths x %d angles", len(rows), len(t.depths), len(t.angles))
	}
	for p := range t.phases {
		t.phases[p] = make([][]float64, len(t.depths))
		for d := range t.phases[p] {
			t.phases[p][d] = make([]float64, len(t.angles))
		}
	}
	for _, rw := range rows {
		di := sort.SearchFloat64s(t.depths, rw.depth)
		ai := sort.SearchFloat64s(t.angles, rw.angle)
		for p := range t.phases {
			t.phases[p][di][ai] = rw.values[p]
		}
	}
	return t, nil
}

func (t *Table) PWave(depth, angle float64) float64     { return t.lookup(0, depth, angle) }
func (t *Table) SWave(depth, angle float64) float64     { return t.lookup(1, depth, angle) }
func (t *Table) PKPWave(depth, angle float64) float64   { return t.lookup(2, depth, angle) }
func (t *Table) PKIKPWave(depth, angle float64) float64 { return t.lookup(3, depth, angle) }

func (t *Table) MaxDepth() float64 { return t.depths[len(t.depths)-1] }

func (t *Table) lookup(phase int, depth, angle float64) float64 {
	d0, d1, fd, ok := bracket(t.depths, depth)
	if !ok {
		return NoArrival
	}
	a0, a1, fa, ok := bracket(t.angles, angle)
	if !ok {
		return NoArrival
	}
	grid := t.phases[phase]
	v00, v01 := grid[d0][a0], grid[d0][a1]
	v10, v11 := grid[d1][a0], grid[d1][a1]
	if !Valid(v00) || !Valid(v01) || !Valid(v10) || !Valid(v11) {
		return NoArrival
	}
	top := v00 + (v01-v00)*fa
	bottom := v10 + (v11-v10)*fa
	return top + (bottom-top)*fd
}

// bracket finds the grid cell containing x and the fractional position in it.
func bracket(axis []float64, x float64) (int, int, float64, bool) {
	if math.IsNaN(x) || x < axis[0] || x > axis[len(axis)-1] {
		return 0, 0, 0, false
	}
	i := sort.SearchFloat64s(axis, x)
	if i == 0 {
		return 0, 1, 0, true
	}
	if i >= len(axis) {
		i = len(axis) - 1
	}
	lo, hi := i-1, i
	return lo, hi, (x - axis[lo]) / (axis[hi] - axis[lo]), true
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoArrival, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return NoArrival, nil
	}
	return v, nil
}

func sortedKeys(m map[float64]struct{}) []float64 {
	out := make([]float64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}
