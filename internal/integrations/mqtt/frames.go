package mqtt

import (
	"context"

	"crowdscope/internal/core/models"
	"crowdscope/internal/integrations/opencv"

	log "github.com/sirupsen/logrus"
)

// Analyzer analysiert ein einzelnes Bild
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// FrameHandler analysiert JPEG-Bilder, die auf <prefix>/frames/<camera_id>[/<zone>] eintreffen
type FrameHandler struct {
	prefix   string
	analyzer Analyzer
	ctx      context.Context
}

// NewFrameHandler erstellt einen Handler für eingehende Bilder. ctx beendet laufende Analysen beim Herunterfahren.
func NewFrameHandler(ctx context.Context, prefix string, analyzer Analyzer) *FrameHandler {
	return &FrameHandler{prefix: prefix, analyzer: analyzer, ctx: ctx}
}

// HandleMessage implementiert MessageHandler
func (h *FrameHandler) HandleMessage(topic string, payload []byte) {
	cameraID, zone, ok := ParseFrameTopic(h.prefix, topic)
	if !ok {
		log.Debugf("Ignoring MQTT message on unrelated topic %s", topic)
		return
	}

	logger := log.WithFields(log.Fields{"topic": topic, "camera_id": cameraID})
	res, err := h.analyzer.Analyze(h.ctx, models.AnalysisRequest{
		Image:        payload,
		CameraID:     cameraID,
		LocationZone: zone,
		Source:       "mqtt",
	})
	if err != nil {
		if opencv.IsDecodeError(err) {
			logger.Warnf("Discarding MQTT frame: %v", err)
			return
		}
		logger.Errorf("MQTT frame analysis failed: %v", err)
		return
	}
	logger.Debugf("MQTT frame analyzed: %d persons", res.Record.PersonCount)
}
