package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/cadence-dimmer/internal/events"
)

// DefaultBufferSize is how many messages are kept while the broker is unreachable.
const DefaultBufferSize = 100

// ErrConnectTimeout is logged when the broker cannot be reached within the
// connect timeout.
var ErrConnectTimeout = errors.New("mqtt: connection timeout")

// ErrTokenTimeout is returned when a publish or subscribe is not acknowledged
// within the publish timeout.
var ErrTokenTimeout = errors.New("mqtt: timeout")

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	Logger     *slog.Logger
	OnCommand  CommandHandler // subscribed on Topics.Command when set
	BufferSize int
	Now        func() time.Time
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed in order on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *slog.Logger
	now    func() time.Time
	onCmd  CommandHandler

	mu             sync.Mutex
	outbox         *outbox
	connectedOnce  bool
	publishTimeout time.Duration
}

// NewRealPublisher creates a publisher for the given broker and starts
// connecting. A broker that is not reachable within the connect timeout is
// not an error: paho keeps retrying and messages are buffered meanwhile.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt: no broker configured")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.ClientID == "" {
		opts.ClientID = "cadence-dimmer"
	}
	if opts.Topics == (Topics{}) {
		opts.Topics = NewTopics(DefaultTopicPrefix)
	}

	p := &RealPublisher{
		topics:         opts.Topics,
		logger:         opts.Logger,
		now:            opts.Now,
		onCmd:          opts.OnCommand,
		outbox:         newOutbox(opts.BufferSize),
		publishTimeout: 5 * time.Second,
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: opts.Now(),
		Event:     EventShutdown,
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(opts.Topics.System, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt connection lost", "error", err)
		})

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.logger.Warn("mqtt broker not reachable yet, buffering", "broker", opts.Broker, "error", ErrConnectTimeout)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// onConnect subscribes to commands and replays buffered messages. After the
// first connection it also announces the reconnect.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.connectedOnce
	p.connectedOnce = true
	pending := p.outbox.take()
	p.mu.Unlock()

	p.logger.Info("mqtt connected", "reconnect", reconnect, "buffered", len(pending))

	var sub paho.Token
	if p.onCmd != nil {
		sub = c.Subscribe(p.topics.Command, 1, func(_ paho.Client, m paho.Message) {
			payload := string(m.Payload())
			if err := p.onCmd(payload); err != nil {
				p.logger.Warn("mqtt duty command rejected", "payload", payload, "error", err)
			}
		})
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: EventReconnected})
		c.Publish(p.topics.System, 1, false, payload)
	}
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}

	// Checked after the replay so a slow SUBACK does not hold buffered messages.
	if sub != nil {
		if err := waitToken(sub, p.publishTimeout); err != nil {
			p.logger.Error("mqtt command subscription failed", "topic", p.topics.Command, "error", err)
		}
	}
}

// PublishDuty sends a duty change to the MQTT broker.
func (p *RealPublisher) PublishDuty(event events.DutyChangedEvent) error {
	payload, err := FormatDutyPayload(event)
	if err != nil {
		return fmt.Errorf("format duty payload: %w", err)
	}
	// QoS 0 (at-most-once), retained so subscribers see the current duties
	return p.publish(pendingMsg{topic: p.topics.Duty, payload: payload, retained: true, latestOnly: true})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(pendingMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m pendingMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		dropped := p.outbox.add(m)
		p.mu.Unlock()
		if dropped {
			p.logger.Warn("mqtt outbox full, dropping oldest", "capacity", p.outbox.capacity)
		}
		return nil
	}

	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if err := waitToken(token, p.publishTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// waitToken waits up to timeout for tok and returns its error, or
// ErrTokenTimeout when the broker did not answer in time.
func waitToken(tok paho.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return ErrTokenTimeout
	}
	return tok.Error()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
