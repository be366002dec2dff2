package homeassistant

import (
	"context"
	"strconv"
	"sync"
	"time"

	"crowdscope/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Publisher veröffentlicht Analyseergebnisse als Home-Assistant-Sensorwerte
type Publisher struct {
	mqtt      MQTTPublisher
	discovery *DiscoveryManager
	resetIdle time.Duration

	mu               sync.Mutex
	personCounters   map[int]int       // Zähler für Personen pro Kamera
	personLastUpdate map[int]time.Time // Zeitpunkt der letzten Aktualisierung
}

// NewPublisher erstellt einen neuen MQTT-Publisher für Home Assistant.
// resetIdle > 0 setzt die Personenzahl einer Kamera nach so langer Stille auf 0.
func NewPublisher(client MQTTPublisher, discovery *DiscoveryManager, resetIdle time.Duration) *Publisher {
	return &Publisher{
		mqtt:             client,
		discovery:        discovery,
		resetIdle:        resetIdle,
		personCounters:   make(map[int]int),
		personLastUpdate: make(map[int]time.Time),
	}
}

// PublishAnalysis aktualisiert die Sensoren der Kamera
func (p *Publisher) PublishAnalysis(res *models.AnalysisResult) {
	if res == nil || res.Record == nil {
		return
	}
	rec := res.Record

	if err := p.discovery.EnsureCamera(rec.CameraID); err != nil {
		log.Warnf("Home Assistant discovery for camera %d failed: %v", rec.CameraID, err)
		return
	}

	p.mu.Lock()
	p.personCounters[rec.CameraID] = rec.PersonCount
	p.personLastUpdate[rec.CameraID] = time.Now()
	p.mu.Unlock()

	if err := p.mqtt.PublishRetain(p.discovery.PersonTopic(rec.CameraID), strconv.Itoa(rec.PersonCount)); err != nil {
		log.Errorf("Failed to publish person count for camera %d: %v", rec.CameraID, err)
	}
	if err := p.mqtt.PublishRetain(p.discovery.AttributesTopic(rec.CameraID), models.NewAnalysisEvent(res)); err != nil {
		log.Errorf("Failed to publish analysis state for camera %d: %v", rec.CameraID, err)
	}
}

// StartResetTimers prüft regelmäßig, ob Zähler zurückgesetzt werden müssen, bis ctx endet
func (p *Publisher) StartResetTimers(ctx context.Context) {
	if p.resetIdle <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				p.checkAndResetCounters(now)
			}
		}
	}()
}

// checkAndResetCounters setzt Kameras ohne neue Analyse seit resetIdle auf 0
func (p *Publisher) checkAndResetCounters(now time.Time) {
	p.mu.Lock()
	var stale []int
	for camera, lastUpdate := range p.personLastUpdate {
		if p.personCounters[camera] != 0 && now.Sub(lastUpdate) > p.resetIdle {
			p.personCounters[camera] = 0
			stale = append(stale, camera)
		}
	}
	p.mu.Unlock()

	for _, camera := range stale {
		if err := p.mqtt.Publish(p.discovery.PersonTopic(camera), "0"); err != nil {
			log.Errorf("Failed to publish person counter reset for camera %d: %v", camera, err)
		} else {
			log.Debugf("Reset person counter for camera %d", camera)
		}
	}
}
