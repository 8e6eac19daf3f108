// Package bundle builds the on-disk session directory and its bundle.json
// manifest (spec.md §6): the per-session subdirectory name, the JSON file
// schema, and the write-once-after-finalize semantics the orchestrator
// drives it with.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avreclab/recorder-engine/internal/orchestrator"
)

// SessionDirTimestampFormat matches the teacher's config backup timestamp
// style, adapted to spec.md §6's `<userBaseName>-<YYYY-MM-DD_HH-mm-ss>`
// directory naming.
const SessionDirTimestampFormat = "2006-01-02_15-04-05"

// FileEntry is one file's manifest record (spec.md §6 bundle.json schema).
// Optional fields carry `omitempty` so consumers that "MUST tolerate
// missing optional fields" see them genuinely absent rather than zeroed.
type FileEntry struct {
	Filename                string  `json:"filename"`
	Type                    string  `json:"type"`
	RecordingStartTimestamp float64 `json:"recordingStartTimestamp,omitempty"`
	RecordingEndTimestamp   float64 `json:"recordingEndTimestamp,omitempty"`
	Codec                   string  `json:"codec,omitempty"`
	Width                   int     `json:"width,omitempty"`
	Height                  int     `json:"height,omitempty"`
	FPS                     int     `json:"fps,omitempty"`
	HasAudio                bool    `json:"hasAudio,omitempty"`
}

// Info is the root bundle.json object.
type Info struct {
	Files []FileEntry `json:"files"`
}

// SessionDirName returns the per-session subdirectory name for
// outputDirectory (spec.md §6: "a per-session subdirectory named
// <userBaseName>-<YYYY-MM-DD_HH-mm-ss>").
func SessionDirName(userBaseName string, at time.Time) string {
	return fmt.Sprintf("%s-%s", userBaseName, at.Format(SessionDirTimestampFormat))
}

// BuildInfo translates an orchestrator.Result into a bundle Info, skipping
// any FileResult whose pipeline never produced a file on disk (spec.md
// §8 P3: "at most N manifest entries exist"). Entries preserve the plan's
// item order.
func BuildInfo(result orchestrator.Result) Info {
	info := Info{Files: make([]FileEntry, 0, len(result.Files))}
	for _, fr := range result.Files {
		if !fr.HasFile {
			continue
		}
		entry := FileEntry{
			Filename: filepath.Base(fr.OutputPath),
			Type:     fr.FileType,
			HasAudio: fr.HasAudio,
		}
		if fr.HasRecordingStart {
			entry.RecordingStartTimestamp = toEpochSeconds(fr.RecordingStart)
		}
		if !fr.RecordingEnd.IsZero() {
			entry.RecordingEndTimestamp = toEpochSeconds(fr.RecordingEnd)
		}
		if fr.HasVideo {
			entry.Codec = fr.Video.Codec
			entry.Width = fr.Video.Width
			entry.Height = fr.Video.Height
			entry.FPS = fr.Video.FPS
		}
		info.Files = append(info.Files, entry)
	}
	return info
}

func toEpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Write marshals info as indented UTF-8 JSON and writes it to
// <dir>/bundle.json, overwriting any existing file. Per spec.md §5's
// shared-resource discipline ("the bundle manifest file is written exactly
// once, after all pipelines are finalized"), callers must not call this
// more than once per session directory.
func Write(dir string, info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("bundle: marshal manifest: %w", err)
	}
	path := filepath.Join(dir, "bundle.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("bundle: write %s: %w", path, err)
	}
	return nil
}

// Read loads and parses a bundle.json file from disk.
func Read(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("bundle: read %s: %w", path, err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("bundle: parse %s: %w", path, err)
	}
	return info, nil
}

// EarliestStart returns the minimum RecordingStartTimestamp across info's
// entries, per spec.md §6: "the earliest recordingStartTimestamp across
// entries defines the session origin". The second return is false if info
// has no entries with a start timestamp.
func EarliestStart(info Info) (float64, bool) {
	var (
		earliest float64
		found    bool
	)
	for _, f := range info.Files {
		if f.RecordingStartTimestamp == 0 {
			continue
		}
		if !found || f.RecordingStartTimestamp < earliest {
			earliest = f.RecordingStartTimestamp
			found = true
		}
	}
	return earliest, found
}
