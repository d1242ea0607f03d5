package timezone

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

var currentLocation = time.UTC

// Initialize sets the process timezone used for attendance timestamps.
// The configured name wins; an empty name falls back to the TZ environment
// variable and finally to UTC.
func Initialize(name string) {
	if name == "" {
		name = os.Getenv("TZ")
	}
	if name == "" {
		name = "UTC"
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", name, err)
		currentLocation = time.UTC
		return
	}

	log.Infof("Successfully initialized timezone to %s", name)
	currentLocation = loc
}

// Now returns the current time in the configured timezone.
func Now() time.Time {
	return time.Now().In(currentLocation)
}

// Format formats t in the configured timezone.
func Format(t time.Time, layout string) string {
	return t.In(currentLocation).Format(layout)
}
