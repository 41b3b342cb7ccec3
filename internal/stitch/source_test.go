package stitch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/panocam/internal/probe"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

type fakeProber struct {
	info  probe.Info
	err   error
	paths []string
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*probe.Info, error) {
	p.paths = append(p.paths, path)
	if p.err != nil {
		return nil, p.err
	}
	info := p.info
	return &info, nil
}

func makeSource(t *testing.T, files ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "240131_094512037_u")
	require.NoError(t, os.Mkdir(dir, 0o755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0o644))
	}
	return dir
}

func TestPrepare(t *testing.T) {
	tests := []struct {
		name       string
		files      []string
		info       probe.Info
		wantDouble bool
		wantDims   models.Size
	}{
		{
			name:     "single stream 4K",
			files:    []string{LensFile},
			info:     probe.Info{Width: 3840, Height: 1920, Fps: 30},
			wantDims: models.Size{Width: 3840, Height: 1920},
		},
		{
			name:       "dual stream doubles width",
			files:      []string{LensFile, SecondLensFile},
			info:       probe.Info{Width: 2880, Height: 2880, Fps: 30},
			wantDouble: true,
			wantDims:   models.Size{Width: 5760, Height: 2880},
		},
		{
			name:       "dual stream 2.5K tier",
			files:      []string{LensFile, SecondLensFile},
			info:       probe.Info{Width: 1220, Height: 1220, Fps: 60},
			wantDouble: true,
			wantDims:   models.Size{Width: 2560, Height: 1280},
		},
		{
			name:     "unmatched width passes through",
			files:    []string{LensFile},
			info:     probe.Info{Width: 7680, Height: 3840, Fps: 10},
			wantDims: models.Size{Width: 7680, Height: 3840},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := makeSource(t, tt.files...)
			p := &fakeProber{info: tt.info}

			task, err := Prepare(context.Background(), p, dir)
			require.NoError(t, err)

			assert.Equal(t, dir, task.SourcePath)
			assert.Equal(t, tt.wantDouble, task.DoubleStream)
			assert.Equal(t, tt.wantDims, task.OutputDims)
			assert.Equal(t, tt.info.Fps, task.Fps)
			assert.Equal(t, models.StitchQueued, task.State)
			assert.Equal(t, []string{filepath.Join(dir, LensFile)}, p.paths)
		})
	}
}

func TestPrepareMissingLensFile(t *testing.T) {
	dir := makeSource(t, SecondLensFile)
	p := &fakeProber{}

	_, err := Prepare(context.Background(), p, dir)
	assert.ErrorIs(t, err, models.ErrFileMissing)
	assert.Empty(t, p.paths, "no probe without a lens file")

	_, err = Prepare(context.Background(), p, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, models.ErrFileMissing)
}

func TestPrepareProbeError(t *testing.T) {
	dir := makeSource(t, LensFile)
	_, err := Prepare(context.Background(), &fakeProber{err: errors.New("moov atom not found")}, dir)
	assert.ErrorContains(t, err, "moov atom not found")
}

func TestOutputDims(t *testing.T) {
	tests := []struct {
		width, height int
		want          models.Size
	}{
		{5800, 2900, models.Size{Width: 5760, Height: 2880}},
		{5760, 2880, models.Size{Width: 5760, Height: 2880}},
		{3864, 1932, models.Size{Width: 3840, Height: 1920}},
		{3840, 1920, models.Size{Width: 3840, Height: 1920}},
		{2440, 1220, models.Size{Width: 2560, Height: 1280}},
		{2560, 1280, models.Size{Width: 2560, Height: 1280}},
		{1920, 960, models.Size{Width: 1920, Height: 960}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputDims(tt.width, tt.height), "width %d", tt.width)
	}
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "/dcim/240131_094512037_s.mp4", OutputPath("/dcim/240131_094512037_u"))
	assert.Equal(t, "/dcim/240131_094512037_s.mp4", OutputPath("/dcim/240131_094512037_u/"))
	assert.Equal(t, "/dcim/clip_s.mp4", OutputPath("/dcim/clip"))
}

func TestFindSources(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"b_u", "a_u", "photos"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, d), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "c_u"), nil, 0o644))

	dirs, err := FindSources(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a_u"), filepath.Join(root, "b_u")}, dirs)

	_, err = FindSources(filepath.Join(root, "missing"))
	assert.Error(t, err)
}
