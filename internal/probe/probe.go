// Package probe reads stream geometry from recorded lens files with ffprobe.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultPath is used when no ffprobe binary is configured
const DefaultPath = "ffprobe"

// Info is the first video stream of a file
type Info struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Fps      int     `json:"fps"`
	Codec    string  `json:"codec"`
	Duration float64 `json:"duration"`
	Bitrate  int64   `json:"bitrate"`
}

// FFprobe runs the ffprobe binary
type FFprobe struct {
	path string
}

// NewFFprobe creates a prober; an empty path uses DefaultPath
func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = DefaultPath
	}
	return &FFprobe{path: path}
}

type metadata struct {
	Format  formatInfo   `json:"format"`
	Streams []streamInfo `json:"streams"`
}

type formatInfo struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type streamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FrameRate    string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

// Probe extracts the video stream info of inputPath
func (f *FFprobe) Probe(ctx context.Context, inputPath string) (*Info, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}
	return Parse(stdout.Bytes())
}

// Parse decodes ffprobe JSON output
func Parse(data []byte) (*Info, error) {
	var md metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &Info{}
	if d, err := strconv.ParseFloat(md.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	if b, err := strconv.ParseInt(md.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = b
	}

	for _, s := range md.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Width = s.Width
		info.Height = s.Height
		info.Codec = s.CodecName

		rate := s.AvgFrameRate
		if ParseRate(rate) == 0 {
			rate = s.FrameRate
		}
		info.Fps = int(math.Round(ParseRate(rate)))
		return info, nil
	}
	return nil, fmt.Errorf("no video stream in %s", md.Format.Filename)
}

// ParseRate parses an ffprobe rational like "30000/1001"; bad input gives 0
func ParseRate(rate string) float64 {
	parts := strings.Split(rate, "/")
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return num
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}
