package updateengine

import (
	"os"
	"strings"
)

// readVersionMarker returns the installed version recorded at path, falling
// back to fallback when the marker file does not exist yet (a fresh install
// that has never gone through the update engine).
func readVersionMarker(path, fallback string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	return strings.TrimSpace(string(b))
}

// writeVersionMarker records the newly-applied version so the next process
// start (and the next apply) know what version is live.
func writeVersionMarker(path, version string) error {
	return os.WriteFile(path, []byte(version+"\n"), 0o644)
}
