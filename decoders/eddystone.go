package decoders

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Eddystone frames ride in a Service Data (0x16) AD structure for the
// 16-bit service UUID 0xFEAA, preceded in the advertising payload by the
// flags and UUID-list structures. The common header below spans all three.
const (
	eddystoneUUID uint16 = 0xFEAA
	serviceData16 byte   = 0x16
)

// Eddystone sub-frame type codes.
const (
	frameUID byte = 0x00
	frameURL byte = 0x10
	frameTLM byte = 0x20
)

const commonHeaderLen = 13

var (
	// ErrEmptyInput is returned for a zero-length buffer: there is no
	// length byte to read, so not even adstruct_bytes can be reported.
	ErrEmptyInput = errors.New("eddystone: empty ad structure")

	// ErrTruncated is returned when the common header promises a sub-frame
	// that the buffer cannot supply. The Result still carries
	// AdStructBytes so a caller can advance past the bad structure.
	ErrTruncated = errors.New("eddystone: buffer too short for sub-frame")
)

// SubType identifies which Eddystone sub-frame a Result carries.
type SubType string

const (
	SubTypeNone SubType = ""
	SubTypeUID  SubType = "uid"
	SubTypeURL  SubType = "url"
	SubTypeTLM  SubType = "tlm"
)

// Result is the decode outcome for one AD structure. AdStructBytes is
// always set, recognized or not, so the caller can advance its scan cursor.
// When Eddystone is true at most one of UID/URL/TLM is non-nil; a recognized
// frame with an unhandled sub_type/eddy_len combination keeps all three nil.
type Result struct {
	AdStructBytes int     `json:"adstruct_bytes"`
	Eddystone     bool    `json:"eddystone"`
	SubType       SubType `json:"sub_type,omitempty"`
	UID           *UID    `json:"uid,omitempty"`
	URL           *URL    `json:"url,omitempty"`
	TLM           *TLM    `json:"tlm,omitempty"`
}

// UID is an Eddystone-UID sub-frame. Namespace and Instance are uppercase
// hex, most significant byte first.
type UID struct {
	RSSIRef   int8   `json:"rssi_ref"`
	Namespace string `json:"namespace"`
	Instance  string `json:"instance"`
}

// URL is an Eddystone-URL sub-frame.
//
// RSSIFudge is read from the last byte of the whole input buffer, not the
// last byte of this structure. That only means anything when the structure
// is alone in the buffer; it is kept as-is because downstream consumers may
// depend on it. See TestDecodeURLRSSIFudgeReadsLastBufferByte.
type URL struct {
	RSSIRef   int8   `json:"rssi_ref"`
	RSSIFudge uint8  `json:"rssi_fudge"`
	URL       string `json:"url"`
}

// TLM is an Eddystone-TLM sub-frame. Metrics is nil unless Version is 0,
// the only telemetry version with a known layout.
type TLM struct {
	Version uint8       `json:"tlm_version"`
	Metrics *TLMMetrics `json:"metrics,omitempty"`
}

// TLMMetrics are the decoded version-0 telemetry fields.
type TLMMetrics struct {
	VBatt  float64 `json:"vbatt"`   // battery voltage, V
	Temp   float64 `json:"temp"`    // beacon temperature, °C
	AdvCnt uint32  `json:"adv_cnt"` // advertisement frames since boot
	SecCnt float64 `json:"sec_cnt"` // seconds since boot
}

// commonHeader is the fixed little-endian prefix shared by every Eddystone
// advertising payload: flags structure, UUID-list structure, then the start
// of the service-data structure up to the sub-frame type byte.
type commonHeader struct {
	AdStructBytes byte
	SDLength      byte
	SDFlagsType   byte
	SDFlagsData   byte
	UUIDListLen   byte
	UUIDDTVal     byte
	ServiceUUID   uint16
	EddyLen       byte
	SDType        byte
	ServiceUUID2  uint16
	SubType       byte
}

func parseCommonHeader(b []byte) commonHeader {
	return commonHeader{
		AdStructBytes: b[0],
		SDLength:      b[1],
		SDFlagsType:   b[2],
		SDFlagsData:   b[3],
		UUIDListLen:   b[4],
		UUIDDTVal:     b[5],
		ServiceUUID:   binary.LittleEndian.Uint16(b[6:8]),
		EddyLen:       b[8],
		SDType:        b[9],
		ServiceUUID2:  binary.LittleEndian.Uint16(b[10:12]),
		SubType:       b[12],
	}
}

var urlSchemes = [4]string{"http://www.", "https://www.", "http://", "https://"}

var urlExpansions = [7]string{".com", ".org", ".edu", ".net", ".info", ".biz", ".gov"}

// nopDiag swallows diagnostics when the caller passes no sink.
var nopDiag = func() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Decode decodes a single BLE AD structure beginning at adStruct[0] (its
// length byte). It is a pure read-only transform: no state, no retention of
// the buffer, safe for concurrent use.
//
// Unrecognized structures are a normal outcome and come back as a Result
// with Eddystone=false and a nil error. An error is returned only for input
// the header itself contradicts: an empty buffer (ErrEmptyInput) or a
// confirmed sub-frame the buffer cannot supply (ErrTruncated); even then
// Result.AdStructBytes is valid whenever the length byte was readable.
//
// diag receives decode diagnostics only and never influences the result;
// pass nil to discard them.
func Decode(adStruct []byte, diag logrus.FieldLogger) (Result, error) {
	if diag == nil {
		diag = nopDiag
	}
	if len(adStruct) == 0 {
		return Result{}, ErrEmptyInput
	}

	// Length byte counts everything after itself.
	adBytes := int(adStruct[0]) + 1
	res := Result{AdStructBytes: adBytes}
	diag.Debugf("ad structure declares %d bytes, buffer has %d", adBytes, len(adStruct))

	if adBytes < 5 || adBytes > len(adStruct) {
		return res, nil
	}
	if len(adStruct) < commonHeaderLen {
		return res, nil
	}

	hdr := parseCommonHeader(adStruct)
	diag.Debugf("common header: uuid=%04X sd_type=0x%02X eddy_len=0x%02X sub_type=0x%02X",
		hdr.ServiceUUID, hdr.SDType, hdr.EddyLen, hdr.SubType)
	if hdr.ServiceUUID != eddystoneUUID || hdr.SDType != serviceData16 {
		return res, nil
	}
	res.Eddystone = true

	switch {
	// Some beacons append two reserved bytes to UID frames, hence 0x17.
	case hdr.SubType == frameUID && (hdr.EddyLen == 0x15 || hdr.EddyLen == 0x17):
		uid, err := decodeUID(adStruct)
		if err != nil {
			return res, err
		}
		res.SubType = SubTypeUID
		res.UID = uid
		diag.Debugf("uid frame: namespace=%s instance=%s rssi_ref=%d", uid.Namespace, uid.Instance, uid.RSSIRef)

	case hdr.SubType == frameURL:
		url, err := decodeURL(adStruct, adBytes)
		if err != nil {
			return res, err
		}
		res.SubType = SubTypeURL
		res.URL = url
		diag.Debugf("url frame: url=%q rssi_ref=%d rssi_fudge=%d", url.URL, url.RSSIRef, url.RSSIFudge)

	case hdr.SubType == frameTLM && hdr.EddyLen == 0x11:
		tlm, err := decodeTLM(adStruct)
		if err != nil {
			return res, err
		}
		res.SubType = SubTypeTLM
		res.TLM = tlm
		diag.Debugf("tlm frame: version=%d decoded=%v", tlm.Version, tlm.Metrics != nil)

	default:
		// UUID and type matched but the sub_type/eddy_len combination is
		// unknown: recognized, nothing to decode.
		diag.Debugf("eddystone frame with unhandled sub_type=0x%02X eddy_len=0x%02X", hdr.SubType, hdr.EddyLen)
	}
	return res, nil
}

func decodeUID(b []byte) (*UID, error) {
	if len(b) < 30 {
		return nil, fmt.Errorf("%w: uid needs 30 bytes, have %d", ErrTruncated, len(b))
	}
	return &UID{
		RSSIRef:   int8(b[13]),
		Namespace: strings.ToUpper(hex.EncodeToString(b[14:24])),
		Instance:  strings.ToUpper(hex.EncodeToString(b[24:30])),
	}, nil
}

func decodeURL(b []byte, adBytes int) (*URL, error) {
	if len(b) < 15 {
		return nil, fmt.Errorf("%w: url needs 15 bytes, have %d", ErrTruncated, len(b))
	}
	u := &URL{
		RSSIRef: int8(b[13]),
		// Last byte of the whole buffer, deliberately not scoped to this
		// structure. See the URL doc comment.
		RSSIFudge: b[len(b)-1],
	}

	var sb strings.Builder
	sb.WriteString(urlSchemes[b[14]&0x03])
	// The scan intentionally starts at byte 7 of the structure, inside the
	// common header, and the two per-byte checks are independent, matching
	// the frame producers this decoder was calibrated against.
	scanEnd := adBytes
	if scanEnd < 7 {
		scanEnd = 7
	}
	for _, c := range b[7:scanEnd] {
		if c < 14 {
			idx := int(c)
			if idx >= 7 {
				idx -= 7
			}
			sb.WriteString(urlExpansions[idx])
			if c < 7 {
				sb.WriteByte('/')
			}
		}
		if c > 0x20 && c < 0x7F {
			sb.WriteByte(c)
		}
	}
	u.URL = sb.String()
	return u, nil
}

func decodeTLM(b []byte) (*TLM, error) {
	if len(b) < 26 {
		return nil, fmt.Errorf("%w: tlm needs 26 bytes, have %d", ErrTruncated, len(b))
	}
	t := &TLM{Version: b[13]}
	if t.Version != 0x00 {
		return t, nil
	}
	t.Metrics = &TLMMetrics{
		VBatt:  float64(binary.BigEndian.Uint16(b[14:16])) / 1000.0,
		Temp:   float64(int16(binary.BigEndian.Uint16(b[16:18]))) / 256.0,
		AdvCnt: binary.BigEndian.Uint32(b[18:22]),
		SecCnt: float64(binary.BigEndian.Uint32(b[22:26])) / 10.0,
	}
	return t, nil
}

// Key returns a stable identity for the beacon behind a decoded frame:
// namespace:instance for UID, the URL text for URL frames. TLM frames carry
// no identity of their own and return "".
func (r Result) Key() string {
	switch {
	case r.UID != nil:
		return r.UID.Namespace + ":" + r.UID.Instance
	case r.URL != nil:
		return r.URL.URL
	}
	return ""
}

// String renders a one-line human summary, used by the analyze CLI.
func (r Result) String() string {
	switch {
	case !r.Eddystone:
		return fmt.Sprintf("unknown ad structure (%d bytes)", r.AdStructBytes)
	case r.UID != nil:
		return fmt.Sprintf("eddystone uid namespace=%s instance=%s rssi_ref=%ddBm (%d bytes)",
			r.UID.Namespace, r.UID.Instance, r.UID.RSSIRef, r.AdStructBytes)
	case r.URL != nil:
		return fmt.Sprintf("eddystone url %q rssi_ref=%ddBm rssi_fudge=%d (%d bytes)",
			r.URL.URL, r.URL.RSSIRef, r.URL.RSSIFudge, r.AdStructBytes)
	case r.TLM != nil && r.TLM.Metrics != nil:
		m := r.TLM.Metrics
		return fmt.Sprintf("eddystone tlm v0 vbatt=%.3fV temp=%.2f°C adv_cnt=%d sec_cnt=%.1fs (%d bytes)",
			m.VBatt, m.Temp, m.AdvCnt, m.SecCnt, r.AdStructBytes)
	case r.TLM != nil:
		return fmt.Sprintf("eddystone tlm v%d (layout unknown) (%d bytes)", r.TLM.Version, r.AdStructBytes)
	}
	return fmt.Sprintf("eddystone frame, unhandled sub-frame (%d bytes)", r.AdStructBytes)
}
