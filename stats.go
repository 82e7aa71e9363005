package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"eddystone-parser/decoders"
)

// rssiSmoothing is the EWMA weight given to the newest RSSI sample.
const rssiSmoothing = 0.3

// BeaconStats accumulates per-beacon sighting state: count, last-seen
// timestamp and a smoothed signal strength history.
type BeaconStats struct {
	Sightings    uint64           `json:"sightings"`
	LastSeen     int64            `json:"last_seen"`
	LastSubType  decoders.SubType `json:"last_sub_type,omitempty"`
	LastRSSI     *int             `json:"last_rssi,omitempty"`
	SmoothedRSSI *float64         `json:"smoothed_rssi,omitempty"`
}

type statsRegistry struct {
	mu      sync.Mutex
	beacons map[string]*BeaconStats
}

var stats = &statsRegistry{beacons: make(map[string]*BeaconStats)}

// Observe folds one decoded frame into the per-beacon state.
func (s *statsRegistry) Observe(key string, frame decoders.Result, rssi *int, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs := s.beacons[key]
	if bs == nil {
		bs = &BeaconStats{}
		s.beacons[key] = bs
	}
	bs.Sightings++
	if ts > bs.LastSeen {
		bs.LastSeen = ts
	}
	if frame.SubType != decoders.SubTypeNone {
		bs.LastSubType = frame.SubType
	}
	if rssi != nil {
		v := *rssi
		bs.LastRSSI = &v
		if bs.SmoothedRSSI == nil {
			f := float64(v)
			bs.SmoothedRSSI = &f
		} else {
			f := rssiSmoothing*float64(v) + (1-rssiSmoothing)**bs.SmoothedRSSI
			bs.SmoothedRSSI = &f
		}
	}
}

// Snapshot copies the registry for read-only consumers.
func (s *statsRegistry) Snapshot() map[string]BeaconStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]BeaconStats, len(s.beacons))
	for k, v := range s.beacons {
		out[k] = *v
	}
	return out
}

func handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats.Snapshot())
}
