package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbocsi/botanynet/broker"
	"github.com/mbocsi/botanynet/client"
	"github.com/mbocsi/botanynet/proto"
	"github.com/mbocsi/botanynet/store"
	"github.com/mbocsi/botanynet/telemetry"
)

// ChirpRecorder journals every chirp the node sends or drops and republishes
// sent chirps on the in-process broker. Either destination may be nil.
type ChirpRecorder struct {
	Sender  string
	Journal *store.Journal
	Broker  *broker.Broker
	Logger  *slog.Logger
}

var _ client.Observer = (*ChirpRecorder)(nil)

func (c *ChirpRecorder) StateChanged(from, to client.State) {}

func (c *ChirpRecorder) ConnectFailed(code proto.ConnectCode) {}

func (c *ChirpRecorder) ChirpSent(topic string, body []byte) {
	now := time.Now()
	if c.Broker != nil {
		c.Broker.Publish(proto.Message{
			Topic:     topic,
			Payload:   append([]byte(nil), body...),
			Sender:    c.Sender,
			Timestamp: now.Unix(),
		})
	}
	c.record(store.Entry{At: now, Topic: topic, Payload: string(body), Status: store.StatusSent, Size: len(body)})
}

func (c *ChirpRecorder) ChirpDropped(topic, payload string, err error) {
	c.record(store.Entry{
		Topic:   topic,
		Payload: payload,
		Status:  store.StatusDropped,
		Reason:  telemetry.DropReason(err),
		Size:    len(payload),
	})
}

func (c *ChirpRecorder) record(e store.Entry) {
	if c.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := c.Journal.Record(ctx, e); err != nil {
		c.logger().Warn("Failed to journal chirp", "topic", e.Topic, "status", e.Status, "error", err)
	}
}

func (c *ChirpRecorder) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
