// Package natspub forwards device events to NATS JetStream and keeps the last
// connection status of every device in a JetStream key-value bucket.
package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/holocommander/internal/config"
	"git.home.luguber.info/inful/holocommander/internal/events"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
)

const (
	publishTimeout = 5 * time.Second
	setupTimeout   = 10 * time.Second
	consumerBuffer = 256
)

// streamPublisher is the part of jetstream.JetStream used for events.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// statusBucket is the part of jetstream.KeyValue used for last status.
type statusBucket interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
}

// Publisher publishes events on <subject>.<device>.<type>.
type Publisher struct {
	conn    *nats.Conn
	js      streamPublisher
	kv      statusBucket
	subject string
}

// Connect dials cfg.URL, ensures the event stream and the status bucket
// exist, and returns a ready publisher.
func Connect(ctx context.Context, cfg config.NATSConfig) (*Publisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("holocommander"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", cfg.URL).
			Retryable().
			Build()
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to create JetStream context").Build()
	}

	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	if _, err := js.CreateOrUpdateStream(setupCtx, jetstream.StreamConfig{
		Name:        streamName(cfg.Subject),
		Description: "holocommander device events",
		Subjects:    []string{cfg.Subject + ".>"},
		MaxAge:      7 * 24 * time.Hour,
	}); err != nil {
		conn.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to ensure event stream").
			WithContext("subject", cfg.Subject).
			Build()
	}

	kv, err := statusKV(setupCtx, js, cfg.KVBucket)
	if err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("NATS publisher ready",
		slog.String("url", cfg.URL),
		logfields.Subject(cfg.Subject),
		slog.String("kv_bucket", cfg.KVBucket))

	p := newPublisher(js, kv, cfg.Subject)
	p.conn = conn
	return p, nil
}

func statusKV(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to open status bucket").
			WithContext("bucket", bucket).
			Build()
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Last connection status per device",
		History:     1,
	})
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to create status bucket").
			WithContext("bucket", bucket).
			Build()
	}
	slog.Info("Created NATS status bucket", slog.String("bucket", bucket))
	return kv, nil
}

func newPublisher(js streamPublisher, kv statusBucket, subject string) *Publisher {
	return &Publisher{js: js, kv: kv, subject: strings.TrimSuffix(subject, ".")}
}

// SubjectFor returns the subject evt is published on.
func (p *Publisher) SubjectFor(evt events.DeviceEvent) string {
	return p.subject + "." + token(evt.DeviceName()) + "." + evt.EventType()
}

// Publish sends evt to JetStream, de-duplicated by its event ID. Status
// changes also replace the device's entry in the status bucket.
func (p *Publisher) Publish(ctx context.Context, evt events.DeviceEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal device event").Build()
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	subject := p.SubjectFor(evt)
	var opts []jetstream.PublishOpt
	if id := evt.EventID(); id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}
	if _, err := p.js.Publish(ctx, subject, data, opts...); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to publish device event").
			WithContext("subject", subject).
			Retryable().
			Build()
	}

	if evt.EventType() == events.TypeStatusChanged && p.kv != nil {
		if _, err := p.kv.Put(ctx, token(evt.DeviceName()), data); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to store device status").
				WithContext("device", evt.DeviceName()).
				Retryable().
				Build()
		}
	}

	slog.Debug("Published device event", logfields.Subject(subject))
	return nil
}

// LastStatus returns the stored status of device, or nil when none was
// stored.
func (p *Publisher) LastStatus(ctx context.Context, device string) (*events.DeviceStatusChanged, error) {
	if p.kv == nil {
		return nil, nil
	}
	entry, err := p.kv.Get(ctx, token(device))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to read device status").
			WithContext("device", device).
			Build()
	}
	var st events.DeviceStatusChanged
	if err := json.Unmarshal(entry.Value(), &st); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryOperation, "malformed device status").
			WithContext("device", device).
			Build()
	}
	return &st, nil
}

// Subscribe registers on bus and returns the forwarding loop. Publish
// failures are logged; the loop ends when ctx is done or the bus closes.
func (p *Publisher) Subscribe(bus *events.Bus) func(ctx context.Context) error {
	ch, unsubscribe := events.Subscribe[events.DeviceEvent](bus, consumerBuffer)
	return func(ctx context.Context) error {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case evt, ok := <-ch:
				if !ok {
					return nil
				}
				if err := p.Publish(ctx, evt); err != nil {
					slog.Warn("Failed to forward device event",
						logfields.Device(evt.DeviceName()),
						logfields.Error(err))
				}
			}
		}
	}
}

// Close drains the NATS connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// token makes s usable as one subject token and as a KV key.
func token(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func streamName(subject string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(subject))
}
