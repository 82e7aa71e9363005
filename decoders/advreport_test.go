package decoders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeReportEmpty(t *testing.T) {
	_, err := DecodeReport(nil, nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestDecodeReportAdvancesByConsumedBytes(t *testing.T) {
	// A 3-byte flags structure followed by a UID frame: the cursor must
	// jump the flags structure and land on the frame.
	raw := append(decodeHex(t, "020106"), decodeHex(t, uidFrameHex)...)

	results, err := DecodeReport(raw, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.False(t, results[0].Eddystone)
	require.Equal(t, 3, results[0].AdStructBytes)

	require.Equal(t, SubTypeUID, results[1].SubType)
	require.Equal(t, "0102030405060708090A", results[1].UID.Namespace)
}

func TestDecodeReportSkipsTruncatedStructure(t *testing.T) {
	// A structure whose header promises a UID frame the buffer cannot
	// supply is dropped without poisoning the rest of the walk.
	raw := append(decodeHex(t, "020106"), decodeHex(t, truncatedUIDHex)...)

	results, err := DecodeReport(raw, nil)
	require.NoError(t, err)
	for _, r := range results {
		require.False(t, r.Eddystone)
	}
}

func TestDecodeReportSingleFrame(t *testing.T) {
	results, err := DecodeReport(decodeHex(t, tlmFrameHex), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, SubTypeTLM, results[0].SubType)
}

func TestEddystoneFrames(t *testing.T) {
	raw := append(decodeHex(t, "020106"), decodeHex(t, urlFrameHex)...)

	results, err := DecodeReport(raw, nil)
	require.NoError(t, err)

	frames := EddystoneFrames(results)
	require.Len(t, frames, 1)
	require.Equal(t, SubTypeURL, frames[0].SubType)

	require.Empty(t, EddystoneFrames(results[:1]))
}
