// Package mqtt publishes SolMate state to an MQTT broker. It defines the
// Publisher interface and includes both a StubPublisher (no-op) and a full
// BridgePublisher that connects to a broker and forwards live-value and
// online events from the EventBus to per-field topics.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/trymwestin/solmate/internal/core/state"
)

// ---------------------------------------------------------------------------
// Publisher interface
// ---------------------------------------------------------------------------

// Publisher sends events and state to an MQTT broker.
type Publisher interface {
	// Start begins publishing events from the event bus.
	Start(ctx context.Context) error
	// Stop shuts down the publisher.
	Stop(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// StubPublisher (no-op, used when MQTT is disabled)
// ---------------------------------------------------------------------------

// StubPublisher is a no-op publisher for when MQTT is not configured.
type StubPublisher struct {
	log *slog.Logger
}

// NewStubPublisher creates a no-op MQTT publisher.
func NewStubPublisher(log *slog.Logger) *StubPublisher {
	return &StubPublisher{log: log}
}

// Start is a no-op.
func (s *StubPublisher) Start(_ context.Context) error {
	s.log.Info("MQTT publisher disabled (stub)")
	return nil
}

// Stop is a no-op.
func (s *StubPublisher) Stop(_ context.Context) error {
	return nil
}

// Ensure StubPublisher implements Publisher.
var _ Publisher = (*StubPublisher)(nil)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds MQTT publisher configuration.
type Config struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	SerialNum   string `yaml:"serial_num"`
}

// ---------------------------------------------------------------------------
// BridgePublisher – forwards live values to per-field topics
// ---------------------------------------------------------------------------

// Ensure BridgePublisher implements Publisher at compile time.
var _ Publisher = (*BridgePublisher)(nil)

// BridgePublisher publishes each live-value field to
// <prefix>/<serial_num>/<field> and the online/availability flags to their
// own topics, fed by the EventBus.
type BridgePublisher struct {
	cfg Config
	bus *state.EventBus
	log *slog.Logger

	client pahomqtt.Client

	unsub    func() // EventBus unsubscribe
	stopC    chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBridgePublisher creates an MQTT bridge publisher.
func NewBridgePublisher(cfg Config, bus *state.EventBus, log *slog.Logger) *BridgePublisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "eet/solmate"
	}
	return &BridgePublisher{
		cfg:   cfg,
		bus:   bus,
		log:   log,
		stopC: make(chan struct{}),
	}
}

// Start connects to the MQTT broker and starts forwarding EventBus events.
func (p *BridgePublisher) Start(_ context.Context) error {
	availTopic := p.topic("status")

	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(fmt.Sprintf("solmate-%s", p.cfg.SerialNum)).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availTopic, "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.log.Info("MQTT connected")
			p.publish(availTopic, "online", true)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.log.Warn("MQTT connection lost", "error", err)
		})

	p.client = pahomqtt.NewClient(opts)

	token := p.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	evtCh, unsub := p.bus.Subscribe(128)
	p.unsub = unsub

	p.wg.Add(1)
	go p.eventLoop(evtCh)

	p.log.Info("MQTT publisher started", "broker", p.cfg.Broker, "prefix", p.cfg.TopicPrefix)
	return nil
}

// Stop gracefully disconnects from the MQTT broker and stops the event
// loop. Safe to call more than once.
func (p *BridgePublisher) Stop(_ context.Context) error {
	p.log.Info("MQTT publisher stopping")

	p.stopOnce.Do(func() { close(p.stopC) })

	if p.unsub != nil {
		p.unsub()
	}

	p.wg.Wait()

	if p.client != nil && p.client.IsConnected() {
		p.publish(p.topic("status"), "offline", true)
		p.client.Disconnect(1000)
	}
	p.log.Info("MQTT publisher stopped")
	return nil
}

func (p *BridgePublisher) eventLoop(evtCh <-chan state.Event) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopC:
			return
		case evt, ok := <-evtCh:
			if !ok {
				return
			}
			p.handleEvent(evt)
		}
	}
}

func (p *BridgePublisher) handleEvent(evt state.Event) {
	switch evt.Type {
	case state.EventLiveValues:
		vals, ok := evt.Data.(state.LiveValues)
		if !ok {
			return
		}
		for field, value := range vals {
			p.publish(p.topic(field), formatValue(value), false)
		}

	case state.EventOnline:
		online, ok := evt.Data.(bool)
		if !ok {
			return
		}
		p.publish(p.topic("online"), strconv.FormatBool(online), true)

	case state.EventConnected:
		p.publish(p.topic("status"), "online", true)

	case state.EventDisconnected:
		p.publish(p.topic("status"), "offline", true)
	}
}

func (p *BridgePublisher) publish(topic, payload string, retain bool) {
	token := p.client.Publish(topic, 1, retain, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Warn("MQTT publish failed", "topic", topic, "error", err)
		}
	}()
}

// Topic builds <prefix>/<serial_num>/<leaf>, matching the scheme consumers
// of the hosted bridge already subscribe to.
func Topic(prefix, serialNum, leaf string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, serialNum, leaf)
}

func (p *BridgePublisher) topic(leaf string) string {
	return Topic(p.cfg.TopicPrefix, p.cfg.SerialNum, leaf)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
