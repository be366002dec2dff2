package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"crowdscope/config"
	"crowdscope/internal/core/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Client ist der MQTT-Client für Analyse-Ergebnisse und eingehende Kamerabilder
type Client struct {
	config config.MQTTConfig
	client mqtt.Client

	mu       sync.RWMutex
	handlers []MessageHandler
}

// MessageHandler ist ein Interface für Handler, die MQTT-Nachrichten verarbeiten
type MessageHandler interface {
	HandleMessage(topic string, payload []byte)
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "crowdscope"
	}
	return &Client{
		config:   cfg,
		handlers: make([]MessageHandler, 0),
	}
}

// Topic-Schema
func (c *Client) statusTopic() string { return c.config.TopicPrefix + "/status" }

// FramesTopic ist das Abonnement für eingehende JPEG-Bilder
func (c *Client) FramesTopic() string { return c.config.TopicPrefix + "/frames/#" }

// AnalysisTopic ist das Topic, auf dem die Ergebnisse einer Kamera veröffentlicht werden
func (c *Client) AnalysisTopic(cameraID int) string {
	return fmt.Sprintf("%s/analysis/%d", c.config.TopicPrefix, cameraID)
}

// TopicPrefix gibt das konfigurierte Präfix zurück
func (c *Client) TopicPrefix() string { return c.config.TopicPrefix }

// RegisterHandler registriert einen neuen MessageHandler
func (c *Client) RegisterHandler(handler MessageHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, handler)
	c.mu.Unlock()
	log.Debug("Registered new MQTT message handler")
}

// Start verbindet den Client mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	// Optionale Authentifizierung
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// Verfügbarkeit für Home Assistant
	opts.SetWill(c.statusTopic(), "offline", 1, true)

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)

	// Automatische Wiederverbindung
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop meldet den Dienst ab und trennt die Verbindung
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		c.client.Publish(c.statusTopic(), 1, true, "offline").WaitTimeout(time.Second)
		c.client.Disconnect(250) // 250ms Wartezeit
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// onConnectHandler wird nach jeder (Wieder-)Verbindung aufgerufen
func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)

	client.Publish(c.statusTopic(), 1, true, "online")

	if !c.config.SubscribeFrames {
		return
	}
	topic := c.FramesTopic()
	log.Infof("Subscribing to MQTT topic: %s", topic)
	if token := client.Subscribe(topic, 1, c.messageHandler); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to subscribe to topic %s: %v", topic, token.Error())
	} else {
		log.Infof("Successfully subscribed to topic: %s", topic)
	}
}

// connectionLostHandler wird aufgerufen, wenn die Verbindung verloren geht
func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
}

// messageHandler leitet eingehende Nachrichten an alle Handler weiter
func (c *Client) messageHandler(client mqtt.Client, msg mqtt.Message) {
	c.dispatch(msg.Topic(), msg.Payload())
}

func (c *Client) dispatch(topic string, payload []byte) {
	log.Debugf("Received MQTT message on topic: %s (%d bytes)", topic, len(payload))

	c.mu.RLock()
	handlers := append([]MessageHandler(nil), c.handlers...)
	c.mu.RUnlock()

	for _, handler := range handlers {
		go handler.HandleMessage(topic, payload)
	}
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	payloadBytes, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// encodePayload wandelt Strings, Bytes und Zahlen direkt um, alles andere als JSON
func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return []byte(fmt.Sprintf("%v", p)), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return b, nil
	}
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (c *Client) PublishRetain(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}

// PublishAnalysis veröffentlicht die Zusammenfassung einer Analyse auf <prefix>/analysis/<camera_id>
func (c *Client) PublishAnalysis(res *models.AnalysisResult) {
	if res == nil || res.Record == nil || !c.IsConnected() {
		return
	}
	topic := c.AnalysisTopic(res.Record.CameraID)
	if err := c.PublishRetain(topic, models.NewAnalysisEvent(res)); err != nil {
		log.Warnf("Failed to publish analysis to MQTT: %v", err)
	}
}

// ParseFrameTopic zerlegt <prefix>/frames/<camera_id>[/<zone>]
func ParseFrameTopic(prefix, topic string) (cameraID int, zone string, ok bool) {
	rest, found := strings.CutPrefix(topic, strings.TrimSuffix(prefix, "/")+"/frames/")
	if !found || rest == "" {
		return 0, "", false
	}
	camera, zone, _ := strings.Cut(rest, "/")
	cameraID, err := strconv.Atoi(camera)
	if err != nil {
		return 0, "", false
	}
	if strings.Contains(zone, "/") {
		return 0, "", false
	}
	return cameraID, zone, true
}
