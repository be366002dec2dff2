package handlers

import (
	"errors"
	"net/http"
	"strings"

	"crowdscope/internal/artifacts"
	"crowdscope/internal/db/repository"
	"crowdscope/internal/integrations/opencv"
	"crowdscope/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// DetectorStatsProvider liefert die Pool-Auslastung je Erkennungsdurchlauf
type DetectorStatsProvider interface {
	Stats() map[string]opencv.PoolStats
}

// SystemHandler liefert Heatmaps und Laufzeitstatus aus
type SystemHandler struct {
	store     artifacts.Store
	urlPrefix string
	workers   utils.WorkerStatsProvider
	detector  DetectorStatsProvider
	repo      repository.Repository
}

// NewSystemHandler erstellt einen neuen System-Handler. workers, detector und repo dürfen nil sein.
func NewSystemHandler(store artifacts.Store, urlPrefix string, workers utils.WorkerStatsProvider,
	detector DetectorStatsProvider, repo repository.Repository) *SystemHandler {
	return &SystemHandler{
		store:     store,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
		workers:   workers,
		detector:  detector,
		repo:      repo,
	}
}

// RegisterRoutes registriert Status- und Artefakt-Routen
func (h *SystemHandler) RegisterRoutes(router *gin.Engine) {
	router.GET(h.urlPrefix+"/:filename", h.ServeArtifact)
	router.GET("/api/status", h.GetStatus)
}

// ServeArtifact liefert eine gespeicherte Heatmap aus
func (h *SystemHandler) ServeArtifact(c *gin.Context) {
	data, err := h.store.Get(c.Request.Context(), c.Param("filename"))
	switch {
	case errors.Is(err, artifacts.ErrNotFound), errors.Is(err, artifacts.ErrInvalidKey):
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	case err != nil:
		log.Errorf("Failed to read artifact %s: %v", c.Param("filename"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// GetStatus gibt System-, Pool- und Datenbankstatistiken zurück
func (h *SystemHandler) GetStatus(c *gin.Context) {
	resp := gin.H{
		"system": utils.GetSystemStats(h.workers),
	}
	if h.detector != nil {
		resp["detector_pools"] = h.detector.Stats()
	}
	if h.repo != nil {
		stats, err := h.repo.GetStatistics()
		if err != nil {
			log.Warnf("Failed to load statistics: %v", err)
		} else {
			resp["statistics"] = stats
		}
	}
	c.JSON(http.StatusOK, resp)
}
