package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	mu              sync.RWMutex
	currentLocation *time.Location
)

// Initialize setzt die Zeitzone für Zeitstempel in Analysen und Dateinamen.
// Ein leerer Name fällt auf die TZ-Umgebungsvariable und danach auf UTC zurück.
func Initialize(name string) {
	tzName := name
	if tzName == "" {
		tzName = os.Getenv("TZ")
	}
	if tzName == "" {
		tzName = "UTC"
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", tzName, err)
		loc = time.UTC
	} else {
		log.Infof("Timezone set to %s", tzName)
	}

	mu.Lock()
	currentLocation = loc
	mu.Unlock()
}

func location() *time.Location {
	mu.RLock()
	loc := currentLocation
	mu.RUnlock()
	if loc == nil {
		Initialize("")
		return location()
	}
	return loc
}

// Now gibt die aktuelle Zeit in der konfigurierten Zeitzone zurück
func Now() time.Time {
	return time.Now().In(location())
}

// ISO8601 formatiert t im RFC3339-Format in der konfigurierten Zeitzone
func ISO8601(t time.Time) string {
	return t.In(location()).Format(time.RFC3339)
}
