package stitch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/panocam/internal/probe"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Recording directory layout
const (
	LensFile         = "0.mp4"
	SecondLensFile   = "1.mp4"
	UnstitchedSuffix = "_u"
	StitchedSuffix   = "_s.mp4"
)

// Prober reads the geometry of a lens file
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.Info, error)
}

// Prepare validates an unstitched recording directory and derives the task
// that stitches it. The directory must hold LensFile; a SecondLensFile marks a
// dual-stream recording whose source width is doubled.
func Prepare(ctx context.Context, prober Prober, dir string) (models.StitchTask, error) {
	lens := filepath.Join(dir, LensFile)
	if fi, err := os.Stat(lens); err != nil || fi.IsDir() {
		return models.StitchTask{}, &models.Error{
			Kind:    models.KindFileMissing,
			Message: fmt.Sprintf("no %s in %s", LensFile, dir),
		}
	}

	double := false
	if _, err := os.Stat(filepath.Join(dir, SecondLensFile)); err == nil {
		double = true
	}

	info, err := prober.Probe(ctx, lens)
	if err != nil {
		return models.StitchTask{}, fmt.Errorf("failed to probe %s: %w", lens, err)
	}

	width := info.Width
	if double {
		width *= 2
	}

	return models.StitchTask{
		SourcePath:   dir,
		OutputDims:   OutputDims(width, info.Height),
		Fps:          info.Fps,
		DoubleStream: double,
		State:        models.StitchQueued,
	}, nil
}

// OutputDims buckets a source width into the stitched output tiers.
// Unknown widths pass through unchanged.
func OutputDims(width, height int) models.Size {
	switch width {
	case 5800, 5760:
		return models.Size{Width: 5760, Height: 2880}
	case 3864, 3840:
		return models.Size{Width: 3840, Height: 1920}
	case 2440, 2560:
		return models.Size{Width: 2560, Height: 1280}
	}
	return models.Size{Width: width, Height: height}
}

// OutputPath is the stitched file written for an unstitched directory,
// "/dcim/240131_094512037_u" -> "/dcim/240131_094512037_s.mp4"
func OutputPath(source string) string {
	return strings.TrimSuffix(filepath.Clean(source), UnstitchedSuffix) + StitchedSuffix
}

// FindSources lists the unstitched recording directories directly under root
func FindSources(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), UnstitchedSuffix) {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}
