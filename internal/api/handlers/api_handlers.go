package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"crowdscope/config"
	"crowdscope/internal/core/models"
	"crowdscope/internal/core/processor"
	"crowdscope/internal/db/repository"
	"crowdscope/internal/density"
	"crowdscope/internal/integrations/opencv"
	"crowdscope/internal/util/timezone"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Header, mit denen Kameras ihre Metadaten mitsenden
const (
	HeaderCameraID     = "X-Camera-ID"
	HeaderLocationZone = "X-Location-Zone"
)

// APIHandler behandelt API-Anfragen für das System
type APIHandler struct {
	cfg      *config.Config
	analyzer processor.Analyzer
	repo     repository.Repository // nil, wenn die Datenbank deaktiviert ist
	passes   []string
}

// NewAPIHandler erstellt einen neuen API-Handler. passes sind die Namen der aktiven Erkennungsdurchläufe.
func NewAPIHandler(cfg *config.Config, analyzer processor.Analyzer, repo repository.Repository, passes []string) *APIHandler {
	return &APIHandler{
		cfg:      cfg,
		analyzer: analyzer,
		repo:     repo,
		passes:   passes,
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.Health)

	// Analyse-Endpunkte
	router.POST("/esp32/analyze", h.analyzeFrom("esp32"))

	api := router.Group("/api")
	api.POST("/analyze", h.analyzeFrom("http"))
	api.GET("/analyses", h.ListAnalyses)
	api.GET("/analyses/:id", h.GetAnalysis)

	// Alarm-Endpunkte
	api.GET("/alerts", h.ListAlerts)
	api.POST("/alerts/:id/resolve", h.ResolveAlert)

	// Belegung
	api.GET("/occupancy/:camera_id", h.ListOccupancy)
}

// Health meldet den Dienststatus, das aktive Modell und die Funktionen
func (h *APIHandler) Health(c *gin.Context) {
	features := []string{"person_detection", "crowd_density", "heatmap"}
	if h.repo != nil {
		features = append(features, "persistence", "occupancy")
		if h.cfg.Alerts.Enabled {
			features = append(features, "crowd_alerts")
		}
	}
	if h.cfg.MQTT.Enabled {
		features = append(features, "mqtt")
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "crowdscope",
		"detector": gin.H{
			"method": h.cfg.Detector.Method,
			"passes": h.passes,
			"dedup":  h.cfg.Detector.Dedup.Mode,
		},
		"density_formula": h.cfg.Density.Formula,
		"database":        h.repo != nil,
		"features":        features,
		"timestamp":       timezone.ISO8601(timezone.Now()),
	})
}

func (h *APIHandler) analyzeFrom(source string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.analyze(c, source)
	}
}

// analyze nimmt ein Bild als Rohdaten oder als Multipart-Feld "file" entgegen
func (h *APIHandler) analyze(c *gin.Context, source string) {
	if h.cfg.Server.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Server.MaxBodyBytes)
	}

	data, err := readImage(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	cameraID, err := cameraIDFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	req := models.AnalysisRequest{
		Image:        data,
		CameraID:     cameraID,
		LocationZone: firstNonEmpty(c.GetHeader(HeaderLocationZone), c.Query("location_zone"), c.PostForm("location_zone")),
		Source:       source,
	}

	res, err := h.analyzer.Analyze(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case opencv.IsDecodeError(err):
			status = http.StatusBadRequest
		case errors.Is(err, processor.ErrPoolShutdown):
			status = http.StatusServiceUnavailable
		default:
			log.WithFields(log.Fields{"camera_id": cameraID, "source": source}).Errorf("Analysis failed: %v", err)
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, AnalysisResponse(res))
}

// AnalysisResponse baut die Antwort eines erfolgreichen Analyseaufrufs
func AnalysisResponse(res *models.AnalysisResult) gin.H {
	rec := res.Record
	var id any
	if res.Saved {
		id = res.ID
	}
	return gin.H{
		"success":       true,
		"camera_id":     rec.CameraID,
		"location_zone": rec.LocationZone,
		"analysis": gin.H{
			"person_count":       rec.PersonCount,
			"crowd_density":      density.Round2(rec.CrowdDensity),
			"density_level":      rec.DensityLevel,
			"density_score":      rec.DensityScore,
			"detection_objects":  rec.Detections,
			"heatmap_url":        rec.HeatmapURL,
			"processing_time_ms": rec.ProcessingTimeMs,
			"image_resolution":   rec.ImageResolution,
			"timestamp":          timezone.ISO8601(rec.Timestamp),
		},
		"database": gin.H{
			"saved": res.Saved,
			"id":    id,
		},
	}
}

func readImage(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("no file uploaded or invalid form data: %w", err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("no image data received")
	}
	return data, nil
}

func cameraIDFrom(c *gin.Context) (int, error) {
	raw := firstNonEmpty(c.GetHeader(HeaderCameraID), c.Query("camera_id"), c.PostForm("camera_id"))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid camera id %q", raw)
	}
	return id, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// requireRepo antwortet mit 503, wenn keine Datenbank konfiguriert ist
func (h *APIHandler) requireRepo(c *gin.Context) bool {
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database is disabled"})
		return false
	}
	return true
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return uint(id), true
}

// ListAnalyses gibt die neuesten Analysen zurück, optional gefiltert nach Kamera
func (h *APIHandler) ListAnalyses(c *gin.Context) {
	if !h.requireRepo(c) {
		return
	}

	filter := repository.AnalysisFilter{}
	if raw := c.Query("camera_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera_id"})
			return
		}
		filter.CameraID = &id
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))

	analyses, err := h.repo.ListAnalyses(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch analyses: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

// GetAnalysis gibt eine einzelne Analyse zurück
func (h *APIHandler) GetAnalysis(c *gin.Context) {
	if !h.requireRepo(c) {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	analysis, err := h.repo.GetAnalysisByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch analysis: %v", err)})
		return
	}
	if analysis == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// ListAlerts gibt Alarme zurück, mit ?unresolved=true nur offene
func (h *APIHandler) ListAlerts(c *gin.Context) {
	if !h.requireRepo(c) {
		return
	}
	unresolved, _ := strconv.ParseBool(c.DefaultQuery("unresolved", "false"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	alerts, err := h.repo.ListAlerts(unresolved, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch alerts: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ResolveAlert markiert einen Alarm als aufgelöst
func (h *APIHandler) ResolveAlert(c *gin.Context) {
	if !h.requireRepo(c) {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	alert, err := h.repo.ResolveAlert(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to resolve alert: %v", err)})
		return
	}
	if alert == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}
	log.Infof("Crowd alert %d resolved", alert.ID)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"alert":   alert,
	})
}

// ListOccupancy gibt den Belegungsverlauf einer Kamera zurück
func (h *APIHandler) ListOccupancy(c *gin.Context) {
	if !h.requireRepo(c) {
		return
	}
	cameraID, err := strconv.Atoi(c.Param("camera_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera_id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.repo.ListOccupancy(cameraID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch occupancy: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"camera_id": cameraID,
		"entries":   logs,
	})
}
