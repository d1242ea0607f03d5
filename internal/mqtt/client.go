package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"attendance-go/config"
	"attendance-go/internal/sse"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Client wraps the MQTT connection used to publish attendance events, e.g.
// for home automation dashboards. It is publish-only.
type Client struct {
	cfg    config.MQTTConfig
	client paho.Client
}

// NewClient creates and configures a new MQTT client wrapper. Returns
// (nil, nil) when MQTT is disabled in the configuration.
func NewClient(cfg config.MQTTConfig) (*Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT client is disabled in the configuration.")
		return nil, nil
	}

	c := &Client{cfg: cfg}

	brokerURL := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)

	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetConnectionLostHandler(c.connectionLostHandler)
	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = paho.NewClient(opts)
	return c, nil
}

// Start connects to the MQTT broker.
func (c *Client) Start() error {
	if c == nil || c.client == nil {
		return fmt.Errorf("MQTT client not initialized (likely disabled)")
	}
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.cfg.Broker, c.cfg.Port)
	log.Infof("Attempting to connect to MQTT broker: %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker %s: %v", brokerURL, token.Error())
		// Rely on auto-reconnect; the server keeps running without MQTT.
		return token.Error()
	}
	return nil
}

// Stop disconnects the MQTT client.
func (c *Client) Stop() {
	if c == nil || c.client == nil {
		return
	}
	if c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		c.client.Disconnect(250)
		log.Info("MQTT client disconnected.")
	}
}

// PublishAttendance publishes an attendance event below the configured
// topic. Publishing is best-effort; a broker outage never blocks the
// attendance pipeline.
func (c *Client) PublishAttendance(event sse.AttendanceEvent) {
	if c == nil || c.client == nil || !c.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal attendance event for MQTT: %v", err)
		return
	}

	topic := c.cfg.Topic
	if event.Name != "" {
		topic = fmt.Sprintf("%s/%s", c.cfg.Topic, event.Name)
	}

	token := c.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Warnf("Failed to publish attendance event to %s: %v", topic, token.Error())
		}
	}()
}

// connectionLostHandler logs when the connection is lost.
func (c *Client) connectionLostHandler(_ paho.Client, err error) {
	log.Errorf("MQTT connection lost: %v. Attempting to reconnect...", err)
}

// onConnectHandler logs a successful (re)connection.
func (c *Client) onConnectHandler(_ paho.Client) {
	log.Infof("Successfully connected to MQTT broker: tcp://%s:%d", c.cfg.Broker, c.cfg.Port)
}
