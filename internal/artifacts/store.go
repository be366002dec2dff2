// Package artifacts speichert gerenderte Heatmaps unter einmalig beschreibbaren Schlüsseln.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound: Get und Delete für unbekannte Schlüssel
	ErrNotFound = errors.New("artifact not found")
	// ErrExists: Put auf einen vergebenen Schlüssel
	ErrExists = errors.New("artifact already exists")
	// ErrInvalidKey: Schlüssel ist kein einfacher, sicherer Dateiname
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Store ist ein einmalig beschreibbarer Ablageort für Heatmap-Bilder
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// URL liefert den öffentlichen Pfad, unter dem das Artefakt ausgeliefert wird
	URL(key string) string
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateKey lehnt leere Schlüssel, Pfadtrenner und Punktsegmente ab
func ValidateKey(key string) error {
	if len(key) > 255 || !keyPattern.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// HeatmapKey baut heatmap_{camera}_{zone}_{YYYYMMDD_HHMMSS}_{id8}.jpg.
// Das Suffix aus der Request-ID trennt Analysen derselben Sekunde.
func HeatmapKey(cameraID int, zone string, ts time.Time, requestID string) string {
	z := strings.Trim(unsafeChars.ReplaceAllString(zone, "-"), "-")
	if z == "" {
		z = "Unknown"
	}
	id := strings.ReplaceAll(requestID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("heatmap_%d_%s_%s_%s.jpg", cameraID, z, ts.UTC().Format("20060102_150405"), id)
}

// KeyFromURL holt den Schlüssel aus einer URL von Store.URL
func KeyFromURL(u string) string {
	if u == "" {
		return ""
	}
	return path.Base(u)
}

func joinURL(prefix, key string) string {
	return strings.TrimRight(prefix, "/") + "/" + key
}
