package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/sirupsen/logrus"
)

// CallbackEvent is what downstream subscribers receive per decoded frame.
type CallbackEvent struct {
	BeaconID  string         `json:"beaconId"`
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	GatewayID string         `json:"gateway_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	BackendID int64
}

var (
	psClient      *pubsub.Client
	cbPublisher   *pubsub.Publisher
	orderingOn    bool
	callbackTopic string
)

func initPubSub(ctx context.Context) error {
	projectID := os.Getenv("GCP_PROJECT_ID")
	callbackTopic = os.Getenv("CALLBACK_TOPIC")
	if projectID == "" || callbackTopic == "" {
		return fmt.Errorf("missing GCP_PROJECT_ID or CALLBACK_TOPIC env var")
	}

	switch strings.ToLower(os.Getenv("CALLBACK_ORDERING")) {
	case "1", "true", "yes":
		orderingOn = true
	}

	cl, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("pubsub.NewClient: %w", err)
	}
	psClient = cl

	// Topic ID ("beacon-callbacks") or full name both work here.
	pub := cl.Publisher(callbackTopic)
	pub.PublishSettings.DelayThreshold = 50 * time.Millisecond
	pub.PublishSettings.Timeout = 10 * time.Second
	pub.EnableMessageOrdering = orderingOn

	cbPublisher = pub
	logrus.Infof("Pub/Sub initialized: topic=%s ordering=%v", callbackTopic, orderingOn)
	return nil
}

func closePubSub() {
	if cbPublisher != nil {
		cbPublisher.Stop()
	}
	if psClient != nil {
		_ = psClient.Close()
	}
}

func publishCallback(ctx context.Context, evt CallbackEvent) error {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal callback event: %w", err)
	}

	msg := &pubsub.Message{
		Data: b,
		Attributes: map[string]string{
			"source":     "eddystone-parser",
			"type":       evt.Type,
			"beaconId":   evt.BeaconID,
			"gateway_id": evt.GatewayID,
		},
	}
	if orderingOn {
		// Per-beacon ordering (the subscription must have ordering enabled)
		msg.OrderingKey = evt.BeaconID
	}
	res := cbPublisher.Publish(ctx, msg)
	id, err := res.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	logrus.Debugf("publishCallback ok topic=%s id=%s bytes=%d", callbackTopic, id, len(b))
	return nil
}
