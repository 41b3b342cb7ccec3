package probe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "streams": [
    {"codec_type": "audio", "codec_name": "aac"},
    {"codec_type": "video", "codec_name": "hevc", "width": 2880, "height": 2880,
     "r_frame_rate": "30/1", "avg_frame_rate": "30000/1001"}
  ],
  "format": {"filename": "/dcim/240131_094512037_u/0.mp4", "duration": "12.480000", "bit_rate": "120000000"}
}`

func TestParse(t *testing.T) {
	info, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 2880, info.Width)
	assert.Equal(t, 2880, info.Height)
	assert.Equal(t, 30, info.Fps)
	assert.Equal(t, "hevc", info.Codec)
	assert.InDelta(t, 12.48, info.Duration, 0.001)
	assert.Equal(t, int64(120000000), info.Bitrate)
}

func TestParseFallsBackToFrameRate(t *testing.T) {
	data := `{"streams":[{"codec_type":"video","width":3840,"height":1920,"r_frame_rate":"60/1","avg_frame_rate":"0/0"}],"format":{}}`
	info, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 60, info.Fps)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"streams":[{"codec_type":"audio"}],"format":{"filename":"a.mp4"}}`))
	assert.ErrorContains(t, err, "no video stream")
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		rate string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.rate, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseRate(tt.rate), 0.01)
		})
	}
}

func TestProbeMissingBinary(t *testing.T) {
	p := NewFFprobe("/nonexistent/ffprobe")
	_, err := p.Probe(context.Background(), "0.mp4")
	assert.ErrorContains(t, err, "ffprobe failed")
}
