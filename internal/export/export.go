package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/callscribe/callscribe/internal/protocol"
)

// Artifacts holds the file locations of one saved session.
type Artifacts struct {
	TXT  string `json:"txt"`
	SRT  string `json:"srt"`
	JSON string `json:"json"`
}

// FullTranscript joins segment texts with single spaces, skipping
// empty ones.
func FullTranscript(segments []protocol.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

// FormatSRT renders segments as sequential 1-based SRT cue blocks.
func FormatSRT(segments []protocol.Segment) string {
	var sb strings.Builder
	for i, seg := range segments {
		sb.WriteString(fmt.Sprintf("%d\n", i+1))
		sb.WriteString(formatSRTTime(seg.Start))
		sb.WriteString(" --> ")
		sb.WriteString(formatSRTTime(seg.End))
		sb.WriteString("\n")
		sb.WriteString(seg.Text)
		sb.WriteString("\n\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// formatSRTTime renders seconds as HH:MM:SS,mmm with millisecond
// truncation and standard carry.
func formatSRTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(seconds * 1000)
	secs := millis / 1000
	millis %= 1000
	mins := secs / 60
	secs %= 60
	hours := mins / 60
	mins %= 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, mins, secs, millis)
}

// Exporter writes session artifacts under a transcripts directory,
// named by session start timestamp.
type Exporter struct {
	dir string
}

func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

// Save persists the plain-text, SRT, and JSON artifacts for one
// stopped session and returns their locations.
func (e *Exporter) Save(sessionStart time.Time, segments []protocol.Segment) (Artifacts, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("create transcripts dir: %w", err)
	}

	stamp := sessionStart.Format("20060102_150405")
	base := filepath.Join(e.dir, "transcript_"+stamp)

	artifacts := Artifacts{
		TXT:  base + ".txt",
		SRT:  base + ".srt",
		JSON: base + ".json",
	}

	if err := os.WriteFile(artifacts.TXT, []byte(FullTranscript(segments)), 0o644); err != nil {
		return Artifacts{}, fmt.Errorf("write txt artifact: %w", err)
	}
	if err := os.WriteFile(artifacts.SRT, []byte(FormatSRT(segments)), 0o644); err != nil {
		return Artifacts{}, fmt.Errorf("write srt artifact: %w", err)
	}

	data, err := json.MarshalIndent(segments, "", "  ")
	if err != nil {
		return Artifacts{}, fmt.Errorf("marshal segments: %w", err)
	}
	if err := os.WriteFile(artifacts.JSON, data, 0o644); err != nil {
		return Artifacts{}, fmt.Errorf("write json artifact: %w", err)
	}

	return artifacts, nil
}
