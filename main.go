package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"eddystone-parser/decoders"

	"github.com/jackc/pgconn"
	"github.com/sirupsen/logrus"
)

// GatewayMessage is the ingest envelope the BLE gateways POST: one captured
// advertising report plus capture metadata. Payload is the raw report, hex.
type GatewayMessage struct {
	MessageID  int64  `json:"message_id"`
	GatewayMAC string `json:"gateway_mac"`
	GatewayHW  string `json:"gateway_hw"`
	DeviceMAC  string `json:"device_mac"`
	Payload    string `json:"payload"`
	QoS        int    `json:"qos"`
	Timestamp  int64  `json:"timestamp"`
	RSSI       *int   `json:"rssi,omitempty"`
}

// decodeDiag is the dedicated sink for frame-decoder diagnostics; its level
// is configured separately from the service log (DECODE_LOG_LEVEL) and has
// no effect on decoded values.
var decodeDiag *logrus.Logger

func initLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(parseLevel(getenv("LOG_LEVEL", "info")))

	decodeDiag = logrus.New()
	decodeDiag.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	decodeDiag.SetLevel(parseLevel(getenv("DECODE_LOG_LEVEL", "warning")))
}

func parseLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		logrus.Warnf("bad log level %q, using info", s)
		return logrus.InfoLevel
	}
	return lvl
}

func main() {
	initLogging()
	ctx := context.Background()

	if err := connectDB(ctx); err != nil {
		logrus.Fatalf("db connect: %v", err)
	}

	if err := initPubSub(ctx); err != nil {
		logrus.Fatalf("initPubSub: %v", err)
	}
	defer closePubSub()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("parser ok"))
	})
	mux.HandleFunc("/message", handleMessage)
	mux.HandleFunc("/stats", handleStats)
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("eddystone-parser"))
	})

	addr := ":" + getenv("HTTPPORT", "8080")
	logrus.Infof("parser listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logrus.Fatalf("ListenAndServe: %v", err)
	}
}

func handleMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logrus.WithField("trace", genTraceID())

	if r.Method != http.MethodPost {
		http.Error(w, "only POST", http.StatusMethodNotAllowed)
		return
	}

	var in GatewayMessage
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.Warnf("decode error: %v", err)
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	normalize(&in)
	log.Infof("recv msg_id=%d gw_mac=%s gw_hw=%s dev_mac=%s qos=%d ts=%d rssi=%s",
		in.MessageID, in.GatewayMAC, in.GatewayHW, in.DeviceMAC, in.QoS, in.Timestamp, ptrIntStr(in.RSSI))

	if err := validate(&in); err != nil {
		log.Warnf("validation error: %v", err)
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}

	log.Debugf("payload.len=%d preview=%q", len(in.Payload), head(in.Payload, getenvInt("LOG_PAYLOAD_PREVIEW_CHARS", 32)))

	raw, err := hex.DecodeString(in.Payload)
	if err != nil {
		log.Warnf("invalid hex payload: %v", err)
		http.Error(w, "payload must be hex: "+err.Error(), http.StatusBadRequest)
		return
	}

	gwName, gwHW, gwClient := fetchGateway(r.Context(), in.GatewayMAC)
	if gwName == "" && gwHW == "" {
		log.Warnf("gateway not found gw_mac=%s", in.GatewayMAC)
	} else {
		log.Debugf("gateway ok name=%q hw=%q client_id=%q", gwName, gwHW, gwClient)
	}

	// Walk the advertising report one AD structure at a time.
	results, err := decoders.DecodeReport(raw, decodeDiag)
	if err != nil {
		log.Warnf("decode report: %v", err)
		http.Error(w, "decode: "+err.Error(), http.StatusBadRequest)
		return
	}
	frames := decoders.EddystoneFrames(results)
	if len(frames) == 0 {
		log.Infof("no eddystone frame in report (%d structures)", len(results))
		http.Error(w, "no eddystone frame in advertisement", http.StatusBadRequest)
		return
	}
	log.Infof("decode ok frames=%d structures=%d", len(frames), len(results))

	for _, frame := range frames {
		key := beaconKey(frame, in.DeviceMAC)

		var beaconName string
		if frame.UID != nil {
			beaconName = fetchBeacon(r.Context(), frame.UID.Namespace, frame.UID.Instance)
			if beaconName == "" {
				log.Debugf("unregistered beacon %s", key)
			}
		}

		if err := insertSighting(r.Context(), &in, frame, beaconName); err != nil {
			var pgErr *pgconn.PgError
			if errorAs(err, &pgErr) {
				log.Errorf("sighting insert error: %s (%s) detail=%s", pgErr.Message, pgErr.Code, pgErr.Detail)
			} else {
				log.Errorf("sighting insert error: %v", err)
			}
			http.Error(w, "db insert sighting: "+err.Error(), http.StatusInternalServerError)
			return
		}

		stats.Observe(key, frame, in.RSSI, in.Timestamp)

		if cbPublisher != nil {
			evt := CallbackEvent{
				BeaconID:  key,
				Type:      eventType(frame),
				Timestamp: in.Timestamp,
				GatewayID: strings.ToUpper(in.GatewayMAC),
				Data: map[string]any{
					"frame":      frame,
					"raw_data":   in.Payload,
					"device_mac": strings.ToUpper(in.DeviceMAC),
				},
				BackendID: in.MessageID,
			}
			if beaconName != "" {
				evt.Data["beacon_name"] = beaconName
			}
			if in.RSSI != nil {
				evt.Data["rssi"] = *in.RSSI
			}
			if err := publishCallback(r.Context(), evt); err != nil {
				log.Warnf("publishCallback error: %v", err)
				// non fatal, the sighting is already stored
			} else {
				log.Debugf("publishCallback ok topic=%s beacon=%s", callbackTopic, evt.BeaconID)
			}
		} else {
			log.Debug("pubsub not initialized; skipping publish")
		}
	}

	if err := updateParsedJSON(r.Context(), in.MessageID, frames); err != nil {
		log.Errorf("db update error: %v", err)
		http.Error(w, "db update parsed_json: "+err.Error(), http.StatusInternalServerError)
		return
	}
	log.Debugf("db update ok message_id=%d", in.MessageID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"message_id": in.MessageID,
		"frames":     len(frames),
		"ms":         time.Since(start).Milliseconds(),
	})
}

// beaconKey falls back to the advertising device MAC when the frame carries
// no identity of its own (TLM, unhandled sub-frames).
func beaconKey(frame decoders.Result, deviceMAC string) string {
	if k := frame.Key(); k != "" {
		return k
	}
	return strings.ToUpper(deviceMAC)
}

func eventType(frame decoders.Result) string {
	if frame.SubType == decoders.SubTypeNone {
		return "eddystone/other"
	}
	return "eddystone/" + string(frame.SubType)
}

func normalize(m *GatewayMessage) {
	m.DeviceMAC = strings.ToLower(strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(m.DeviceMAC))
	m.GatewayMAC = strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(m.GatewayMAC))
	m.Payload = strings.TrimSpace(m.Payload)
}

func validate(m *GatewayMessage) error {
	if m.MessageID <= 0 {
		return fmt.Errorf("message_id must be > 0")
	}
	if m.DeviceMAC == "" {
		return fmt.Errorf("device_mac required")
	}
	if m.Payload == "" {
		return fmt.Errorf("payload empty")
	}
	if m.Timestamp <= 0 {
		return fmt.Errorf("timestamp ms required")
	}
	// hex sanity (fast path)
	if !isLikelyHex(m.Payload) {
		return fmt.Errorf("payload is not hex-like")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := fmt.Sscanf(v, "%d", &def); err == nil && n == 1 {
			return def
		}
	}
	return def
}

func head(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

func isLikelyHex(s string) bool {
	if len(s) == 0 || (len(s)%2) != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func ptrIntStr(p *int) string {
	if p == nil {
		return "nil"
	}
	return fmt.Sprintf("%d", *p)
}

func genTraceID() string {
	return fmt.Sprintf("%08x", uint32(rand.Uint32()))
}

// errorAs is a tiny local helper to avoid importing errors for a single use
func errorAs(err error, target interface{}) bool {
	switch t := target.(type) {
	case **pgconn.PgError:
		if e, ok := err.(*pgconn.PgError); ok {
			*t = e
			return true
		}
	}
	return false
}
