package homeassistant

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Constants for Home Assistant MQTT Discovery
const (
	// Discovery-Präfix für Home Assistant (Standard ist "homeassistant")
	DefaultDiscoveryPrefix = "homeassistant"

	// Component-Typ für Sensoren
	ComponentSensor = "sensor"

	// Node-ID für Crowdscope
	NodeID = "crowdscope"
)

// MQTTPublisher ist der Teil des MQTT-Clients, den die Integration benötigt
type MQTTPublisher interface {
	Publish(topic string, payload interface{}) error
	PublishRetain(topic string, payload interface{}) error
}

// SensorConfig repräsentiert die MQTT-Discovery-Konfiguration für einen Sensor in Home Assistant
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	Icon                string  `json:"icon,omitempty"`
	UnitOfMeasurement   string  `json:"unit_of_measurement,omitempty"`
	StateClass          string  `json:"state_class,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string  `json:"value_template,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device repräsentiert die Geräteinformationen für Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryManager registriert je Kamera einmalig die Sensoren in Home Assistant
type DiscoveryManager struct {
	mqtt            MQTTPublisher
	discoveryPrefix string
	topicPrefix     string
	device          *Device

	mu         sync.Mutex
	registered map[int]bool
}

// NewDiscoveryManager erstellt einen neuen Manager für Home Assistant Discovery
func NewDiscoveryManager(client MQTTPublisher, discoveryPrefix, topicPrefix string) *DiscoveryManager {
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}
	return &DiscoveryManager{
		mqtt:            client,
		discoveryPrefix: discoveryPrefix,
		topicPrefix:     topicPrefix,
		device: &Device{
			Identifiers:  []string{"crowdscope"},
			Name:         "Crowdscope",
			Manufacturer: "Crowdscope",
			Model:        "Crowd Analysis",
		},
		registered: make(map[int]bool),
	}
}

// PersonTopic ist das State-Topic der Personenzahl einer Kamera
func (dm *DiscoveryManager) PersonTopic(cameraID int) string {
	return fmt.Sprintf("%s/cameras/%d/person", dm.topicPrefix, cameraID)
}

// AttributesTopic enthält die vollständige letzte Analyse einer Kamera
func (dm *DiscoveryManager) AttributesTopic(cameraID int) string {
	return fmt.Sprintf("%s/cameras/%d/state", dm.topicPrefix, cameraID)
}

func (dm *DiscoveryManager) availabilityTopic() string {
	return dm.topicPrefix + "/status"
}

func (dm *DiscoveryManager) configTopic(objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", dm.discoveryPrefix, ComponentSensor, NodeID, objectID)
}

// EnsureCamera registriert die Sensoren einer Kamera beim ersten Auftreten
func (dm *DiscoveryManager) EnsureCamera(cameraID int) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.registered[cameraID] {
		return nil
	}

	sensors := map[string]SensorConfig{
		fmt.Sprintf("camera_%d_persons", cameraID): {
			Name:              fmt.Sprintf("Crowdscope Camera %d Persons", cameraID),
			UniqueID:          fmt.Sprintf("crowdscope_camera_%d_persons", cameraID),
			StateTopic:        dm.PersonTopic(cameraID),
			UnitOfMeasurement: "persons",
			StateClass:        "measurement",
			Icon:              "mdi:account-group",
		},
		fmt.Sprintf("camera_%d_density", cameraID): {
			Name:                fmt.Sprintf("Crowdscope Camera %d Density", cameraID),
			UniqueID:            fmt.Sprintf("crowdscope_camera_%d_density", cameraID),
			StateTopic:          dm.AttributesTopic(cameraID),
			ValueTemplate:       "{{ value_json.density_level }}",
			JSONAttributesTopic: dm.AttributesTopic(cameraID),
			Icon:                "mdi:heat-wave",
		},
	}

	for objectID, sensor := range sensors {
		sensor.AvailabilityTopic = dm.availabilityTopic()
		sensor.PayloadAvailable = "online"
		sensor.PayloadNotAvailable = "offline"
		sensor.Device = dm.device
		if err := dm.mqtt.PublishRetain(dm.configTopic(objectID), sensor); err != nil {
			return fmt.Errorf("failed to publish discovery configuration: %w", err)
		}
	}

	dm.registered[cameraID] = true
	log.Infof("Registered Home Assistant sensors for camera %d", cameraID)
	return nil
}

// PublishAvailability veröffentlicht den Online-Status
func (dm *DiscoveryManager) PublishAvailability(online bool) error {
	status := "offline"
	if online {
		status = "online"
	}
	return dm.mqtt.PublishRetain(dm.availabilityTopic(), status)
}
