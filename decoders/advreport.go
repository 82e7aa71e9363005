package decoders

import "github.com/sirupsen/logrus"

// DecodeReport walks every AD structure in an advertising report, decoding
// each one and advancing the cursor by the bytes it consumed. The tail of
// the buffer is handed to each decode (not a per-structure slice) because
// a structure's declared length is only trusted after Decode validates it.
//
// A structure the header contradicts (ErrTruncated) is logged and skipped;
// it never affects the structures after it. Only an empty report is an
// error for the whole call.
func DecodeReport(raw []byte, diag logrus.FieldLogger) ([]Result, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyInput
	}
	if diag == nil {
		diag = nopDiag
	}

	results := make([]Result, 0, 4)
	for off := 0; off < len(raw); {
		res, err := Decode(raw[off:], diag)
		if err != nil {
			diag.WithError(err).Warnf("skipping undecodable ad structure at offset %d", off)
		} else {
			results = append(results, res)
		}
		// AdStructBytes >= 1 always: a zero length byte still consumes itself.
		off += res.AdStructBytes
	}
	return results, nil
}

// EddystoneFrames filters a report's results down to recognized Eddystone
// frames, sub-frame payload or not.
func EddystoneFrames(results []Result) []Result {
	var frames []Result
	for _, r := range results {
		if r.Eddystone {
			frames = append(frames, r)
		}
	}
	return frames
}
