package main

import (
	"testing"

	"eddystone-parser/decoders"

	"github.com/stretchr/testify/require"
)

func TestStatsObserve(t *testing.T) {
	reg := &statsRegistry{beacons: make(map[string]*BeaconStats)}
	frame := decoders.Result{Eddystone: true, SubType: decoders.SubTypeUID}

	r1, r2 := -60, -70
	reg.Observe("NS:01", frame, &r1, 1000)
	reg.Observe("NS:01", frame, &r2, 2000)
	reg.Observe("NS:02", frame, nil, 1500)

	snap := reg.Snapshot()
	require.Len(t, snap, 2)

	b := snap["NS:01"]
	require.EqualValues(t, 2, b.Sightings)
	require.EqualValues(t, 2000, b.LastSeen)
	require.Equal(t, decoders.SubTypeUID, b.LastSubType)
	require.NotNil(t, b.LastRSSI)
	require.Equal(t, -70, *b.LastRSSI)
	// EWMA: 0.3*-70 + 0.7*-60 = -63
	require.NotNil(t, b.SmoothedRSSI)
	require.InDelta(t, -63.0, *b.SmoothedRSSI, 1e-9)

	other := snap["NS:02"]
	require.EqualValues(t, 1, other.Sightings)
	require.Nil(t, other.LastRSSI)
	require.Nil(t, other.SmoothedRSSI)
}

func TestStatsObserveKeepsLatestTimestamp(t *testing.T) {
	reg := &statsRegistry{beacons: make(map[string]*BeaconStats)}
	frame := decoders.Result{Eddystone: true, SubType: decoders.SubTypeTLM}

	reg.Observe("AA:BB", frame, nil, 2000)
	reg.Observe("AA:BB", frame, nil, 1000) // out-of-order delivery

	b := reg.Snapshot()["AA:BB"]
	require.EqualValues(t, 2, b.Sightings)
	require.EqualValues(t, 2000, b.LastSeen)
}
