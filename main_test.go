package main

import (
	"testing"

	"eddystone-parser/decoders"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	in := GatewayMessage{
		GatewayMAC: "aa:bb:cc:dd:ee:ff",
		DeviceMAC:  "11-22-33-44-55-66",
		Payload:    "  0201060AFF  ",
	}
	normalize(&in)
	require.Equal(t, "AABBCCDDEEFF", in.GatewayMAC)
	require.Equal(t, "112233445566", in.DeviceMAC)
	require.Equal(t, "0201060AFF", in.Payload)
}

func TestValidate(t *testing.T) {
	valid := GatewayMessage{
		MessageID: 1,
		DeviceMAC: "112233445566",
		Payload:   "0201060AFF",
		Timestamp: 1700000000000,
	}
	require.NoError(t, validate(&valid))

	cases := []func(*GatewayMessage){
		func(m *GatewayMessage) { m.MessageID = 0 },
		func(m *GatewayMessage) { m.DeviceMAC = "" },
		func(m *GatewayMessage) { m.Payload = "" },
		func(m *GatewayMessage) { m.Timestamp = 0 },
		func(m *GatewayMessage) { m.Payload = "xyz" },
		func(m *GatewayMessage) { m.Payload = "ABC" }, // odd length
	}
	for i, mutate := range cases {
		m := valid
		mutate(&m)
		require.Errorf(t, validate(&m), "case %d", i)
	}
}

func TestIsLikelyHex(t *testing.T) {
	require.True(t, isLikelyHex("0201060aFF"))
	require.False(t, isLikelyHex(""))
	require.False(t, isLikelyHex("ABC"))
	require.False(t, isLikelyHex("zz"))
}

func TestMacHexToBytea(t *testing.T) {
	b, err := macHexToBytea("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, b)

	_, err = macHexToBytea("AABBCC")
	require.Error(t, err)

	_, err = macHexToBytea("not-a-mac")
	require.Error(t, err)
}

func TestBeaconKeyFallsBackToDeviceMAC(t *testing.T) {
	uid := decoders.Result{
		Eddystone: true,
		SubType:   decoders.SubTypeUID,
		UID:       &decoders.UID{Namespace: "0102030405060708090A", Instance: "0B0C0D0E0F10"},
	}
	require.Equal(t, "0102030405060708090A:0B0C0D0E0F10", beaconKey(uid, "112233445566"))

	tlm := decoders.Result{Eddystone: true, SubType: decoders.SubTypeTLM, TLM: &decoders.TLM{}}
	require.Equal(t, "112233445566", beaconKey(tlm, "112233445566"))
}

func TestEventType(t *testing.T) {
	require.Equal(t, "eddystone/uid", eventType(decoders.Result{SubType: decoders.SubTypeUID}))
	require.Equal(t, "eddystone/other", eventType(decoders.Result{Eddystone: true}))
}

func TestHead(t *testing.T) {
	require.Equal(t, "abcd", head("abcd", 8))
	require.Equal(t, "ab", head("abcd", 2))
	require.Equal(t, "abcd", head("abcd", 0))
}
