package main

import (
	"strings"
	"testing"

	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStations(t *testing.T) {
	in := "id,network,code,lat,lon,elevation\n" +
		"1,GE,PB00, 38.30 ,142.40,120\n" +
		"2,IU,MAJO,36.55,138.20,\n"

	infos, err := parseStations(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []station.Info{
		{ID: 1, Network: "GE", Code: "PB00", Lat: 38.3, Lon: 142.4, Elevation: 120},
		{ID: 2, Network: "IU", Code: "MAJO", Lat: 36.55, Lon: 138.2},
	}, infos)
}

func TestParseStations_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "header only", in: "id,network,code,lat,lon\n", want: "no data rows"},
		{name: "missing column", in: "id,network,code,lat\n1,GE,A,1\n", want: `missing column "lon"`},
		{name: "bad id", in: "id,network,code,lat,lon\nx,GE,A,1,2\n", want: "line 2: invalid id"},
		{name: "duplicate id", in: "id,network,code,lat,lon\n1,GE,A,1,2\n1,GE,B,1,2\n", want: "line 3: duplicate id 1"},
		{name: "lat range", in: "id,network,code,lat,lon\n1,GE,A,91,2\n", want: "line 2: invalid lat"},
		{name: "lon range", in: "id,network,code,lat,lon\n1,GE,A,1,-181\n", want: "line 2: invalid lon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseStations(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
