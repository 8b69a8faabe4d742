package metadata

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"melodycommons/logger"

	"github.com/dhowden/tag"
)

// Result carries what could be read from a file's embedded tags. Degraded is
// true when the tag container was unreadable and the fields are filename
// fallbacks instead of real metadata.
type Result struct {
	Title    string
	Artist   string
	Album    string
	Duration int // Whole seconds; 0 when no stream info was available
	Degraded bool
}

// Extractor reads embedded tags and probes stream duration. A malformed file
// never blocks an upload: every failure path degrades to defaults instead of
// returning an error.
type Extractor struct {
	ffprobePath string
}

// NewExtractor creates an Extractor using the given ffprobe binary for
// duration probing.
func NewExtractor(ffprobePath string) *Extractor {
	return &Extractor{ffprobePath: ffprobePath}
}

// Extract reads tags and duration from the audio file at path.
func (e *Extractor) Extract(path string) Result {
	res := Result{Duration: e.probeDuration(path)}

	f, err := os.Open(path)
	if err != nil {
		logger.Warn("Failed to open file for tag extraction",
			logger.String("path", path), logger.ErrorField(err))
		return degrade(res, path)
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		logger.Warn("Failed to parse tags, falling back to filename",
			logger.String("path", path), logger.ErrorField(err))
		return degrade(res, path)
	}

	res.Title = strings.TrimSpace(meta.Title())
	res.Artist = strings.TrimSpace(meta.Artist())
	res.Album = strings.TrimSpace(meta.Album())

	// Individual missing fields still fall back, without marking the whole
	// result degraded.
	if res.Title == "" {
		res.Title = baseName(path)
	}
	if res.Artist == "" {
		res.Artist = "Unknown Artist"
	}
	return res
}

// degrade fills a Result with the filename/placeholder defaults.
func degrade(res Result, path string) Result {
	res.Title = baseName(path)
	res.Artist = "Unknown Artist"
	res.Album = ""
	res.Degraded = true
	return res
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// probeDuration shells out to ffprobe and returns the stream duration in
// whole seconds, or 0 when the probe fails or reports nothing.
func (e *Extractor) probeDuration(path string) int {
	out, err := exec.Command(e.ffprobePath,
		"-v", "quiet", "-print_format", "json", "-show_format", path).Output()
	if err != nil {
		return 0
	}

	var result struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &result); err != nil || result.Format.Duration == "" {
		return 0
	}

	secs, err := strconv.ParseFloat(result.Format.Duration, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return int(secs) // Truncated to whole seconds
}
