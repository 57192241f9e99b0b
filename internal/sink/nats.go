package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/sshfeeder/internal/messaging"
	natsclient "github.com/telhawk-systems/sshfeeder/internal/messaging/nats"
	"github.com/telhawk-systems/sshfeeder/internal/models"
)

// publisher is the part of the JetStream client used by NATSSink.
type publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, msgID string) error
	IsConnected() bool
	Close() error
}

// NATSSink publishes each record to JetStream on a per-host subject.
type NATSSink struct {
	pub    publisher
	prefix string
}

// NewNATSSink ensures the measurements stream exists and returns a sink
// publishing to it.
func NewNATSSink(ctx context.Context, client *natsclient.JetStreamClient, stream, prefix string) (*NATSSink, error) {
	if stream == "" {
		stream = messaging.StreamMeasurements
	}
	cfg := natsclient.DefaultStreamConfig(stream, []string{messaging.MeasurementsRawWildcard(prefix)})
	if _, err := client.CreateOrUpdateStream(ctx, cfg); err != nil {
		return nil, err
	}
	return &NATSSink{pub: jetStreamPublisher{client}, prefix: prefix}, nil
}

func (s *NATSSink) Write(ctx context.Context, rec models.Record) error {
	msg, err := s.message(rec)
	if err != nil {
		return err
	}
	if err := s.pub.PublishMsg(ctx, msg, MessageID(rec)); err != nil {
		return fmt.Errorf("failed to publish %s:%d: %w", rec.File, rec.Line, err)
	}
	return nil
}

func (s *NATSSink) message(rec models.Record) (*nats.Msg, error) {
	payload, err := Payload(rec)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(messaging.MeasurementsRawSubject(s.prefix, rec.Host))
	msg.Data = payload
	msg.Header.Set(messaging.HeaderHost, rec.Host)
	msg.Header.Set(messaging.HeaderFile, rec.File)
	msg.Header.Set(messaging.HeaderLine, strconv.Itoa(rec.Line))
	return msg, nil
}

// Healthy reports whether the NATS connection is up.
func (s *NATSSink) Healthy() bool {
	return s.pub.IsConnected()
}

func (s *NATSSink) Close() error {
	return s.pub.Close()
}

type jetStreamPublisher struct {
	client *natsclient.JetStreamClient
}

func (p jetStreamPublisher) PublishMsg(ctx context.Context, msg *nats.Msg, msgID string) error {
	_, err := p.client.PublishMsg(ctx, msg, msgID)
	return err
}

func (p jetStreamPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

func (p jetStreamPublisher) Close() error {
	return p.client.Close()
}
