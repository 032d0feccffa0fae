package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pitchtracker/internal/analysis"
	"pitchtracker/internal/eventbus"
)

const schemaVersion = 1

// AppVersion is stamped into every manifest; overridable by cmd/pitchtracker
// at build time via -ldflags, matching how orbo's main.go reports its own
// version string.
var AppVersion = "dev"

// resolution mirrors the {w,h} shape from the on-disk manifest layout.
type resolution struct {
	W int `json:"w"`
	H int `json:"h"`
}

// pitchManifest is the pitch_NNN/manifest.json document.
type pitchManifest struct {
	SessionID     string                             `json:"session_id"`
	PitchID       int                                `json:"pitch_id"`
	CreatedUTC    string                             `json:"created_utc"`
	AppVersion    string                             `json:"app_version"`
	SchemaVersion int                                `json:"schema_version"`
	Codec         string                             `json:"codec"`
	FPS           int                                `json:"fps"`
	Resolution    resolution                         `json:"resolution"`
	PreRollMs     int                                `json:"pre_roll_ms"`
	PostRollMs    int                                `json:"post_roll_ms"`
	Observations  []eventbus.StereoObservationRecord `json:"observations"`
	Analysis      analysis.Metrics                   `json:"analysis"`
}

func writePitchManifest(dir string, m pitchManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("recording: encoding pitch manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644)
}

// sessionManifest is the session-level manifest.json.
type sessionManifest struct {
	SessionID     string     `json:"session_id"`
	CreatedUTC    string     `json:"created_utc"`
	AppVersion    string     `json:"app_version"`
	SchemaVersion int        `json:"schema_version"`
	Codec         string     `json:"codec"`
	FPS           int        `json:"fps"`
	Resolution    resolution `json:"resolution"`
	PitchCount    int        `json:"pitch_count"`
}

func writeSessionManifest(dir string, m sessionManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("recording: encoding session manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644)
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
