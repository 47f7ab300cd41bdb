// Package notify publishes event lifecycle and delivery notices to an MQTT
// broker. Publishing never blocks the caller; notices that do not fit in the
// queue are dropped and counted.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/care/sentry/internal/config"
	"github.com/care/sentry/internal/event"
	"github.com/care/sentry/internal/types"
)

const (
	TypeEventStarted      = "event.started"
	TypeEventEnded        = "event.ended"
	TypeDeliverySucceeded = "delivery.succeeded"
	TypeDeliveryFailed    = "delivery.failed"
	TypeSnapshotSent      = "snapshot.sent"
	TypeSnapshotFailed    = "snapshot.failed"
)

// Notice is one message on the broker.
type Notice struct {
	Type       string    `json:"type" msgpack:"type"`
	InstanceID string    `json:"instance_id" msgpack:"instance_id"`
	At         time.Time `json:"at" msgpack:"at"`
	EventID    string    `json:"event_id,omitempty" msgpack:"event_id,omitempty"`
	Artifact   string    `json:"artifact,omitempty" msgpack:"artifact,omitempty"`
	Kind       string    `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Attempts   int       `json:"attempts,omitempty" msgpack:"attempts,omitempty"`
}

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Options struct {
	InstanceID  string
	TopicPrefix string
	QoS         byte
	Encoding    string // json or msgpack
	QueueSize   int
}

// Stats contains publisher statistics
type Stats struct {
	Published map[string]uint64
	Errors    uint64
	Dropped   uint64
}

// Publisher queues notices and publishes them from a single goroutine.
type Publisher struct {
	client Client
	opts   Options
	now    func() time.Time

	queue chan Notice
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once

	// gate orders enqueues before Close; closed is guarded by it
	gate   sync.RWMutex
	closed bool

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
	dropped   uint64
}

func NewPublisher(c Client, opts Options) *Publisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Encoding == "" {
		opts.Encoding = "json"
	}
	p := &Publisher{
		client:    c,
		opts:      opts,
		now:       time.Now,
		queue:     make(chan Notice, opts.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		published: make(map[string]uint64),
	}
	go p.run()
	return p
}

// Connect dials the broker described by cfg and returns a running publisher.
func Connect(ctx context.Context, cfg config.MQTTConfig, instanceID string) (*Publisher, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s", broker)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(instanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		slog.Info("mqtt connection established",
			"broker", broker,
			"client_id", instanceID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker,
		)
	}

	client := mqtt.NewClient(opts)
	slog.Info("connecting to mqtt broker", "broker", broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return NewPublisher(client, Options{
		InstanceID:  instanceID,
		TopicPrefix: cfg.TopicPrefix,
		QoS:         cfg.QoS,
		Encoding:    cfg.Encoding,
	}), nil
}

// Publish enqueues n. It never blocks.
func (p *Publisher) Publish(n Notice) {
	if n.InstanceID == "" {
		n.InstanceID = p.opts.InstanceID
	}
	if n.At.IsZero() {
		n.At = p.now()
	}
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.closed {
		p.drop(n, "publisher closed")
		return
	}
	select {
	case p.queue <- n:
	default:
		p.drop(n, "queue full")
	}
}

func (p *Publisher) drop(n Notice, reason string) {
	p.mu.Lock()
	p.dropped++
	p.mu.Unlock()
	slog.Warn("mqtt notice dropped", "type", n.Type, "reason", reason)
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case n := <-p.queue:
			p.send(n)
		case <-p.stop:
			for {
				select {
				case n := <-p.queue:
					p.send(n)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(n Notice) {
	topic := p.Topic(n)
	payload, err := p.Encode(n)
	if err == nil {
		token := p.client.Publish(topic, p.opts.QoS, false, payload)
		if !token.WaitTimeout(2 * time.Second) {
			err = fmt.Errorf("publish timeout")
		} else {
			err = token.Error()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.errors++
		slog.Warn("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	p.published[topic]++
	slog.Debug("mqtt notice published", "topic", topic, "qos", p.opts.QoS, "size", len(payload))
}

// Topic maps a notice type onto the prefix: event.started becomes
// <prefix>/event/started.
func (p *Publisher) Topic(n Notice) string {
	return p.opts.TopicPrefix + "/" + strings.ReplaceAll(n.Type, ".", "/")
}

func (p *Publisher) Encode(n Notice) ([]byte, error) {
	if p.opts.Encoding == "msgpack" {
		return msgpack.Marshal(n)
	}
	return json.Marshal(n)
}

// Close publishes whatever is queued and disconnects.
func (p *Publisher) Close() {
	p.once.Do(func() {
		p.gate.Lock()
		p.closed = true
		p.gate.Unlock()

		close(p.stop)
		<-p.done
		p.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	})
}

func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{Published: published, Errors: p.errors, Dropped: p.dropped}
}

func (p *Publisher) EventStarted(ev event.Event) {
	p.Publish(Notice{Type: TypeEventStarted, EventID: ev.ID, At: ev.StartedAt, Artifact: ev.ArtifactPath})
}

func (p *Publisher) EventEnded(ev event.Event) {
	p.Publish(Notice{Type: TypeEventEnded, EventID: ev.ID, At: ev.LastMotionAt, Artifact: ev.ArtifactPath})
}

// DeliveryAttempted is a no-op; single attempts only reach logs and metrics.
func (p *Publisher) DeliveryAttempted(types.DeliveryAttempt) {}

func (p *Publisher) DeliveryFinished(d types.Delivery) {
	a := d.Artifact
	n := Notice{
		EventID:  a.EventID,
		Artifact: a.Name(),
		Kind:     a.Kind.String(),
		Attempts: d.Attempts,
	}
	switch {
	case a.Kind == types.ArtifactSnapshot && d.Delivered:
		n.Type = TypeSnapshotSent
	case a.Kind == types.ArtifactSnapshot:
		n.Type = TypeSnapshotFailed
	case d.Delivered:
		n.Type = TypeDeliverySucceeded
	default:
		n.Type = TypeDeliveryFailed
	}
	p.Publish(n)
}
