package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/debounced-pin/internal/logic"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int // messages kept while disconnected
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

// RealPublisher publishes to an actual MQTT broker.
// Messages published while disconnected are buffered and replayed in order
// once the connection is re-established.
type RealPublisher struct {
	client paho.Client
	log    logrus.FieldLogger
	now    func() time.Time

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	replaying bool
	everUp    bool
}

// NewRealPublisher creates a publisher for the given broker and starts
// connecting. If the broker is unreachable the publisher is still returned and
// keeps retrying in the background; messages are buffered until it connects.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Broker == "" {
		return nil, errors.New("mqtt: broker address required")
	}
	if o.ClientID == "" {
		o.ClientID = "button-sensor"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	p := &RealPublisher{
		log: o.Logger,
		now: o.Now,
		buf: newRingBuffer(o.BufferSize, o.Logger),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: o.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.log.WithField("broker", o.Broker).Warn("mqtt: connection timeout, retrying in background")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect replays buffered messages before live publishing resumes.
// publish keeps buffering while replaying is set, so messages published
// during the replay are sent after everything that was already queued.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.everUp
	p.everUp = true
	p.connected = true
	p.replaying = true
	p.mu.Unlock()

	if reconnect {
		p.log.Info("mqtt: reconnected")
		payload, err := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		if err == nil {
			if err := p.send(TopicSystem, 1, false, payload); err != nil {
				p.log.WithError(err).Warn("mqtt: failed to publish reconnected event")
			}
		}
	} else {
		p.log.Info("mqtt: connected")
	}

	for {
		p.mu.Lock()
		pending := p.buf.drainAll()
		if len(pending) == 0 || !p.connected {
			p.buf.requeue(pending)
			p.replaying = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		p.log.WithField("count", len(pending)).Info("mqtt: replaying buffered messages")
		if rest := p.replay(pending); len(rest) > 0 {
			p.mu.Lock()
			p.buf.requeue(rest)
			p.replaying = false
			p.mu.Unlock()
			p.log.WithField("count", len(rest)).Warn("mqtt: connection lost during replay, requeued")
			return
		}
	}
}

// replay sends msgs in order. It stops at the first not-connected failure
// and returns the messages that were not sent.
func (p *RealPublisher) replay(msgs []bufferedMsg) []bufferedMsg {
	for i, m := range msgs {
		err := p.send(m.topic, m.qos, m.retained, m.payload)
		if errors.Is(err, paho.ErrNotConnected) {
			return msgs[i:]
		}
		if err != nil {
			p.log.WithError(err).WithField("topic", m.topic).Warn("mqtt: replay failed")
		}
	}
	return nil
}

func (p *RealPublisher) onConnectionLost(c paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.WithError(err).Warn("mqtt: connection lost")
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// publish sends the message, or buffers it while disconnected or while a
// replay is in progress. A send rejected because the connection dropped is
// buffered too. With wait false the broker ack is not awaited.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte, wait bool) error {
	msg := bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}

	p.mu.Lock()
	if !p.connected || p.replaying {
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if !wait {
		token := p.client.Publish(topic, qos, retained, payload)
		go p.await(token, msg)
		return nil
	}

	err := p.send(topic, qos, retained, payload)
	if errors.Is(err, paho.ErrNotConnected) {
		p.requeue(msg)
		return nil
	}
	return err
}

// await waits for the ack of a message published without waiting.
func (p *RealPublisher) await(token paho.Token, msg bufferedMsg) {
	err := tokenError(token)
	if errors.Is(err, paho.ErrNotConnected) {
		p.requeue(msg)
		return
	}
	if err != nil {
		p.log.WithError(err).WithField("topic", msg.topic).Warn("mqtt: publish failed")
	}
}

func (p *RealPublisher) requeue(msg bufferedMsg) {
	p.mu.Lock()
	p.buf.push(msg)
	p.mu.Unlock()
	p.log.WithField("topic", msg.topic).Debug("mqtt: not connected, message buffered")
}

func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	return tokenError(p.client.Publish(topic, qos, retained, payload))
}

func tokenError(token paho.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Publish sends a button event to the MQTT broker.
// QoS 0 (at-most-once), not retained.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(Topic, 0, false, payload, true)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
// QoS 1 (at-least-once) so lifecycle events are delivered.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, 1, event.Retained, payload, !event.NoWait)
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
