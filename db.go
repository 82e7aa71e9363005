package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"eddystone-parser/decoders"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

var pg *pgxpool.Pool

func connectDB(ctx context.Context) error {
	dbUser := os.Getenv("DB_USER")
	dbPass := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	instance := os.Getenv("INSTANCE_CONNECTION_NAME")
	usePrivate := os.Getenv("PRIVATE_IP") != ""

	if dbUser == "" || dbPass == "" || dbName == "" || instance == "" {
		return fmt.Errorf("missing DB envs (DB_USER/DB_PASSWORD/DB_NAME/INSTANCE_CONNECTION_NAME)")
	}

	dsn := fmt.Sprintf("user=%s password=%s database=%s sslmode=disable", dbUser, dbPass, dbName)

	opts := []cloudsqlconn.Option{}
	if usePrivate {
		opts = append(opts, cloudsqlconn.WithDefaultDialOptions(cloudsqlconn.WithPrivateIP()))
	}
	d, err := cloudsqlconn.NewDialer(ctx, opts...)
	if err != nil {
		return fmt.Errorf("cloudsql dialer: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	cfg.ConnConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(ctx, instance)
	}
	cfg.MinConns = 0
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pg, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pg.Ping(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	logrus.Info("connected to database")
	return nil
}

// macHexToBytea converts a mac in hex (with or without separator) to raw 6 bytes.
func macHexToBytea(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	// Accept forms like "AA:BB:CC:DD:EE:FF", "aa-bb-...", "aabbccddeeff"
	s = strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex mac %q: %w", s, err)
	}
	if len(b) != 6 {
		return nil, fmt.Errorf("mac must be 6 bytes, got %d", len(b))
	}
	return b, nil
}

func fetchGateway(ctx context.Context, mac string) (name, hwType, clientID string) {
	bmac, err := macHexToBytea(mac)
	if err != nil {
		logrus.Warnf("fetchGateway: %v", err)
		return
	}
	row := pg.QueryRow(ctx,
		`SELECT gateway_name, gateway_hw_type, client_id
			FROM gateways
			WHERE gateway_mac = $1`, bmac)
	_ = row.Scan(&name, &hwType, &clientID)
	return
}

// fetchBeacon resolves a registered Eddystone-UID beacon to its friendly
// name. Unregistered beacons come back as "".
func fetchBeacon(ctx context.Context, namespace, instance string) (name string) {
	row := pg.QueryRow(ctx,
		`SELECT beacon_name
			FROM beacons
			WHERE namespace = $1 AND instance = $2`, namespace, instance)
	_ = row.Scan(&name)
	return
}

// insertSighting records one decoded frame against the originating message.
func insertSighting(ctx context.Context, in *GatewayMessage, frame decoders.Result, beaconName string) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	dmac, err := macHexToBytea(in.DeviceMAC)
	if err != nil {
		return err
	}
	_, err = pg.Exec(ctx,
		`INSERT INTO beacon_sighting
			(message_id, beacon_key, beacon_name, sub_type, device_mac, rssi, seen_at, frame_json)
			VALUES ($1, $2, $3, $4, $5, $6, to_timestamp($7/1000.0), $8)`,
		in.MessageID, beaconKey(frame, in.DeviceMAC), nullIfEmpty(beaconName),
		string(frame.SubType), dmac, in.RSSI, in.Timestamp, b)
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Update parsed_json for the existing backend_message row (id == message_id)
func updateParsedJSON(ctx context.Context, backendID int64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ct, err := pg.Exec(ctx, `UPDATE backend_message SET parser_json = $2 WHERE id = $1`, backendID, b)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("no backend_message row found for id=%d", backendID)
	}
	return nil
}
