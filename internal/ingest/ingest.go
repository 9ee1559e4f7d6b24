// Package ingest subscribes to device messages on MQTT, persists them and
// applies them to the live device registry.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/kid-tracker/internal/db"
	"github.com/ukydev/kid-tracker/internal/device"
	"github.com/ukydev/kid-tracker/internal/metrics"
	"github.com/ukydev/kid-tracker/internal/models"
	"github.com/ukydev/kid-tracker/internal/protocol"
)

// Ingestion results recorded in metrics.
const (
	ResultApplied       = "applied"
	ResultStored        = "stored"
	ResultStale         = "stale"
	ResultDecodeFailure = "decode_failure"
	ResultStoreFailure  = "store_failure"
	ResultInvalid       = "invalid"
)

// DefaultManufacturer is assumed for envelopes that do not name one.
const DefaultManufacturer = "3G"

// ErrInvalidEnvelope is returned for payloads that are not a usable message.
var ErrInvalidEnvelope = errors.New("invalid message envelope")

// Envelope is the JSON document published by devices and gateways.
type Envelope struct {
	DeviceID     string        `json:"device_id"`
	Manufacturer string        `json:"manufacturer,omitempty"`
	Type         string        `json:"type"`
	Payload      string        `json:"payload"`
	Source       models.Source `json:"source,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Config holds the broker settings.
type Config struct {
	Broker    string
	Topic     string
	ClientID  string
	Username  string
	Password  string
	QueueSize int
}

type inbound struct {
	topic   string
	payload []byte
}

// Ingestor consumes device messages.
type Ingestor struct {
	cfg      Config
	store    db.MessageCollection
	registry *device.Manager
	client   mqtt.Client
	msgCh    chan inbound
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// New creates an ingestor writing to store and registry.
func New(cfg Config, store db.MessageCollection, registry *device.Manager) *Ingestor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Ingestor{
		cfg:      cfg,
		store:    store,
		registry: registry,
		msgCh:    make(chan inbound, cfg.QueueSize),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start connects to the broker, subscribes on every (re)connect and starts
// the worker. It returns once the first connection attempt is done.
func (i *Ingestor) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(i.cfg.Broker).
		SetClientID(i.cfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if i.cfg.Username != "" {
		opts.SetUsername(i.cfg.Username)
		opts.SetPassword(i.cfg.Password)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Error("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		log.WithField("topic", i.cfg.Topic).Info("MQTT connected, subscribing")
		if token := c.Subscribe(i.cfg.Topic, 1, i.onMessage); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).WithField("topic", i.cfg.Topic).Error("Failed to subscribe")
		}
	}

	i.client = mqtt.NewClient(opts)
	if token := i.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", i.cfg.Broker, token.Error())
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.run(ctx)
	}()
	return nil
}

// Stop disconnects from the broker and waits for queued messages to be
// handled.
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		if i.client != nil && i.client.IsConnected() {
			i.client.Disconnect(500)
		}
		close(i.done)
	})
	i.wg.Wait()
}

// IsConnected reports whether the broker connection is up.
func (i *Ingestor) IsConnected() bool {
	return i.client != nil && i.client.IsConnected()
}

func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	log.WithField("topic", m.Topic()).Debug("Received MQTT message")
	select {
	case i.msgCh <- inbound{topic: m.Topic(), payload: m.Payload()}:
	case <-i.done:
	}
}

func (i *Ingestor) run(ctx context.Context) {
	for {
		select {
		case in := <-i.msgCh:
			i.handleLogged(ctx, in)
		case <-ctx.Done():
			i.drain(context.WithoutCancel(ctx))
			return
		case <-i.done:
			i.drain(ctx)
			return
		}
	}
}

func (i *Ingestor) drain(ctx context.Context) {
	for {
		select {
		case in := <-i.msgCh:
			i.handleLogged(ctx, in)
		default:
			return
		}
	}
}

func (i *Ingestor) handleLogged(ctx context.Context, in inbound) {
	if err := i.Handle(ctx, in.topic, in.payload); err != nil {
		log.WithError(err).WithField("topic", in.topic).Warn("Failed to ingest message")
	}
}

// Handle ingests one published payload. The message is persisted first;
// device-sourced location and link messages then advance the live state of
// their device, which is registered on first sight. A decode failure keeps
// the stored message but leaves the live state untouched.
func (i *Ingestor) Handle(ctx context.Context, topic string, payload []byte) error {
	msg, err := i.envelope(topic, payload)
	if err != nil {
		metrics.MessagesIngested.WithLabelValues("unknown", ResultInvalid).Inc()
		return err
	}
	entry := log.WithFields(log.Fields{"device_id": msg.DeviceID, "type": msg.Type})

	if err := i.store.InsertMessage(ctx, msg); err != nil {
		metrics.MessagesIngested.WithLabelValues(msg.Type, ResultStoreFailure).Inc()
		entry.WithError(err).Error("Failed to persist message")
	}

	if msg.Source != models.SourceDevice {
		metrics.MessagesIngested.WithLabelValues(msg.Type, ResultStored).Inc()
		return nil
	}

	result, err := i.apply(msg)
	metrics.MessagesIngested.WithLabelValues(msg.Type, result).Inc()
	if err != nil {
		return err
	}
	entry.WithField("result", result).Debug("Ingested message")
	return nil
}

func (i *Ingestor) apply(msg models.Message) (string, error) {
	switch {
	case protocol.IsLocation(msg.Type):
		loc, err := protocol.ToLocation(msg)
		if err != nil {
			return ResultDecodeFailure, err
		}
		if !i.device(msg.DeviceID).UpdateLocation(loc) {
			return ResultStale, nil
		}
	case protocol.IsLink(msg.Type):
		link, err := protocol.ToLink(msg)
		if err != nil {
			return ResultDecodeFailure, err
		}
		if !i.device(msg.DeviceID).UpdateLink(link) {
			return ResultStale, nil
		}
	default:
		return ResultStored, nil
	}
	return ResultApplied, nil
}

func (i *Ingestor) device(id string) *device.Device {
	d := i.registry.Ensure(id)
	metrics.LiveDevices.Set(float64(i.registry.Len()))
	return d
}

func (i *Ingestor) envelope(topic string, payload []byte) (models.Message, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	if env.DeviceID == "" {
		env.DeviceID = DeviceIDFromTopic(topic)
	}
	if env.DeviceID == "" {
		return models.Message{}, fmt.Errorf("%w: no device id", ErrInvalidEnvelope)
	}
	if env.Type == "" {
		return models.Message{}, fmt.Errorf("%w: no message type", ErrInvalidEnvelope)
	}
	if env.Manufacturer == "" {
		env.Manufacturer = DefaultManufacturer
	}
	if env.Source == "" {
		env.Source = models.SourceDevice
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = i.now().UTC()
	}

	return models.Message{
		DeviceID:     env.DeviceID,
		Manufacturer: env.Manufacturer,
		Type:         strings.ToUpper(env.Type),
		Payload:      env.Payload,
		Source:       env.Source,
		Timestamp:    env.Timestamp,
	}, nil
}

// DeviceIDFromTopic extracts the device segment of
// <prefix>/devices/<device_id>/<suffix>. It returns "" when the topic has no
// devices segment.
func DeviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for n := 0; n+1 < len(parts); n++ {
		if parts[n] == "devices" {
			return parts[n+1]
		}
	}
	return ""
}

// Topic returns the topic a device publishes on under prefix.
func Topic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/messages", strings.TrimSuffix(prefix, "/"), deviceID)
}
