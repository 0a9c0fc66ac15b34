package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/station"
)

// waveformMessage is the JSON wire form of a waveform record.
type waveformMessage struct {
	Station    int     `json:"station"`
	StartMs    int64   `json:"start_ms"`
	SampleRate float64 `json:"sample_rate"`
	Samples    []int32 `json:"samples"`
}

// DecodeRecord parses a raw message into a validated station record.
func DecodeRecord(raw domain.RawRecord) (station.Record, error) {
	var msg waveformMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return station.Record{}, fmt.Errorf("decode waveform record: %w", err)
	}
	rec := station.Record{
		StationID:  msg.Station,
		StartMs:    msg.StartMs,
		SampleRate: msg.SampleRate,
		Samples:    msg.Samples,
	}
	if err := rec.Validate(); err != nil {
		return station.Record{}, err
	}
	return rec, nil
}

// EncodeRecord is the inverse of DecodeRecord, used by producers of
// synthetic waveforms.
func EncodeRecord(rec station.Record) ([]byte, error) {
	data, err := json.Marshal(waveformMessage{
		Station:    rec.StationID,
		StartMs:    rec.StartMs,
		SampleRate: rec.SampleRate,
		Samples:    rec.Samples,
	})
	if err != nil {
		return nil, fmt.Errorf("encode waveform record: %w", err)
	}
	return data, nil
}
