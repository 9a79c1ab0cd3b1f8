// Package mqtt subscribes to the gateway decoder's MQTT topic and turns
// each JSON envelope into a work item.
package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	CleanSession   bool          `yaml:"clean_session"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Collector implements ports.Collector on top of a paho client.
type Collector struct {
	cfg Config
	obs ports.Observability

	newClient func(*paho.ClientOptions) paho.Client

	mu     sync.Mutex
	client paho.Client
	out    chan<- domain.WorkItem
	stop   chan struct{}
}

func NewCollector(cfg Config, obs ports.Observability) *Collector {
	if cfg.ClientID == "" {
		cfg.ClientID = "backend-client-" + uuid.NewString()[:8]
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Collector{cfg: cfg, obs: obs, newClient: paho.NewClient}
}

func (c *Collector) options() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.Broker).
		SetClientID(c.cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(c.cfg.CleanSession).
		SetKeepAlive(c.cfg.KeepAlive).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
	}
	if c.cfg.Password != "" {
		opts.SetPassword(c.cfg.Password)
	}

	opts.OnConnect = func(client paho.Client) {
		c.obs.LogInfo("mqtt_connected", ports.Field{Key: "broker", Value: c.cfg.Broker})
		token := client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.onMessage)
		if token.Wait() && token.Error() != nil {
			c.obs.LogError("mqtt_subscribe_failed", token.Error(), ports.Field{Key: "topic", Value: c.cfg.Topic})
			return
		}
		c.obs.LogInfo("mqtt_subscribed", ports.Field{Key: "topic", Value: c.cfg.Topic}, ports.Field{Key: "qos", Value: c.cfg.QoS})
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.obs.LogWarn("mqtt_connection_lost", err)
	}
	return opts
}

// Start connects and subscribes. With connect retry enabled the first
// connection may still be pending when Start returns.
func (c *Collector) Start(out chan<- domain.WorkItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return errors.New("mqtt collector already started")
	}
	if c.cfg.Topic == "" {
		return errors.New("mqtt topic is required")
	}

	c.out = out
	c.stop = make(chan struct{})
	c.client = c.newClient(c.options())

	token := c.client.Connect()
	if token.WaitTimeout(c.cfg.ConnectTimeout) && token.Error() != nil {
		c.client = nil
		return errors.Wrapf(token.Error(), "mqtt connect %s", c.cfg.Broker)
	}
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	close(c.stop)
	if c.client.IsConnected() {
		c.client.Unsubscribe(c.cfg.Topic).WaitTimeout(time.Second)
	}
	c.client.Disconnect(250)
	c.client = nil
	return nil
}

func (c *Collector) onMessage(_ paho.Client, msg paho.Message) {
	c.handle(msg.Topic(), msg.Payload())
}

func (c *Collector) handle(topic string, payload []byte) {
	item, err := domain.DecodeEnvelope(payload)
	if err != nil {
		c.obs.IncCounter(ports.MetricEnvelopesInvalid, 1)
		c.obs.LogWarn("envelope_invalid", err, ports.Field{Key: "topic", Value: topic})
		return
	}

	c.mu.Lock()
	out, stop := c.out, c.stop
	c.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- item:
	case <-stop:
	}
}

var _ ports.Collector = (*Collector)(nil)
