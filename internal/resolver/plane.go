package resolver

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// DefaultAspectRatio is used by plane video and screen live when no ratio is given
const DefaultAspectRatio = "1:1"

// ParseRatio parses "W:H"
func ParseRatio(ratio string) (int, int, error) {
	parts := strings.Split(ratio, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid aspect ratio %q", ratio)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid aspect ratio %q: %w", ratio, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid aspect ratio %q: %w", ratio, err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid aspect ratio %q", ratio)
	}
	return w, h, nil
}

// PlaneResolution fits an aspect ratio onto the short side of size.
// 1:1 gives base*base, wide ratios keep base as height, tall ratios keep base
// as width.
func PlaneResolution(size models.Size, ratio string) (models.Size, error) {
	rw, rh, err := ParseRatio(ratio)
	if err != nil {
		return models.Size{}, err
	}

	base := size.Width
	if size.Height < base {
		base = size.Height
	}

	switch {
	case rw == rh:
		return models.Size{Width: base, Height: base}, nil
	case rw > rh:
		return models.Size{
			Width:  int(math.Round(float64(base) * float64(rw) / float64(rh))),
			Height: base,
		}, nil
	default:
		return models.Size{
			Width:  base,
			Height: int(math.Round(float64(base) * float64(rh) / float64(rw))),
		}, nil
	}
}
