package presenter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/groutine"
	"github.com/srg/flipble/pkg/flipper"
)

const (
	// DefaultMQTTQueueSize bounds the messages waiting for the broker; the oldest are overwritten
	DefaultMQTTQueueSize = 1024

	publishTimeout = 5 * time.Second
)

// Publisher is the part of mqtt.Client the mirror uses
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// LogMessage is the payload published on <topic>/log
type LogMessage struct {
	Tag       flipper.Tag `json:"tag"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

// StateMessage is the retained payload published on <topic>/state
type StateMessage struct {
	Connected bool      `json:"connected"`
	Device    string    `json:"device,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type outbound struct {
	topic    string
	retained bool
	payload  []byte
}

// MQTT mirrors presenter output to a broker. Presenter calls only enqueue,
// so a slow broker never stalls the notification path.
type MQTT struct {
	pub    Publisher
	topic  string
	logger *logrus.Logger

	queue mpmc.RichOverlappedRingBuffer[outbound]
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}

	stopOnce sync.Once
	now      func() time.Time
}

// NewMQTT starts the publisher goroutine. Call Close to flush and stop it.
func NewMQTT(pub Publisher, topic string, queueSize uint32, logger *logrus.Logger) (*MQTT, error) {
	if pub == nil {
		return nil, fmt.Errorf("mqtt publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("mqtt topic is required")
	}
	if queueSize == 0 {
		queueSize = DefaultMQTTQueueSize
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	m := &MQTT{
		pub:    pub,
		topic:  topic,
		logger: logger,
		queue:  mpmc.NewOverlappedRingBuffer[outbound](queueSize),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	groutine.Go(context.Background(), "mqtt-publisher", func(context.Context) {
		m.run()
	})
	return m, nil
}

func (m *MQTT) Log(tag flipper.Tag, text string) {
	if tag == flipper.TagData {
		m.enqueue(outbound{topic: m.topic + "/data", payload: []byte(text)})
		return
	}
	payload, err := json.Marshal(LogMessage{Tag: tag, Text: text, Timestamp: m.now()})
	if err != nil {
		m.logger.WithError(err).Warn("Failed to encode log message")
		return
	}
	m.enqueue(outbound{topic: m.topic + "/log", payload: payload})
}

func (m *MQTT) ConnectionChanged(connected bool, name string) {
	payload, err := json.Marshal(StateMessage{Connected: connected, Device: name, Timestamp: m.now()})
	if err != nil {
		m.logger.WithError(err).Warn("Failed to encode state message")
		return
	}
	m.enqueue(outbound{topic: m.topic + "/state", retained: true, payload: payload})
}

func (m *MQTT) enqueue(msg outbound) {
	select {
	case <-m.stop:
		return
	default:
	}
	overwritten, err := m.queue.EnqueueM(msg)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to queue MQTT message")
		return
	}
	if overwritten > 0 {
		m.logger.WithField("dropped", overwritten).Warn("MQTT queue full, oldest messages dropped")
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *MQTT) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			m.drain()
			return
		case <-m.wake:
			m.drain()
		}
	}
}

func (m *MQTT) drain() {
	for !m.queue.IsEmpty() {
		msg, err := m.queue.Dequeue()
		if err != nil {
			return
		}
		m.publish(msg)
	}
}

func (m *MQTT) publish(msg outbound) {
	token := m.pub.Publish(msg.topic, 1, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		m.logger.WithField("topic", msg.topic).Warn("MQTT publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		m.logger.WithError(err).WithField("topic", msg.topic).Warn("MQTT publish failed")
		return
	}
	m.logger.WithField("topic", msg.topic).Trace("Published")
}

// Close publishes what is queued and stops the publisher goroutine
func (m *MQTT) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// MQTTOptions configures the broker connection
type MQTTOptions struct {
	Broker   string
	ClientID string
}

// ConnectMQTT opens a broker connection and waits for it, honouring ctx
func ConnectMQTT(ctx context.Context, opts MQTTOptions, logger *logrus.Logger) (mqtt.Client, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetMaxReconnectInterval(60 * time.Second)
	co.SetKeepAlive(30 * time.Second)
	co.SetPingTimeout(10 * time.Second)
	co.SetOnConnectHandler(func(mqtt.Client) {
		logger.WithField("broker", opts.Broker).Info("MQTT connected")
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(co)
	token := client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return nil, fmt.Errorf("mqtt connect: %w", err)
			}
			return client, nil
		}
		select {
		case <-ctx.Done():
			client.Disconnect(250)
			return nil, ctx.Err()
		default:
		}
	}
}
