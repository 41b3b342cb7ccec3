package resolver

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

const (
	// DefaultLensField is the plane-video field of view in degrees
	DefaultLensField = 120
	// DefaultLapseMultiplier is the time-lapse frame interval multiplier
	DefaultLapseMultiplier = 10
	defaultFps             = 30
	highFps                = 60
)

var (
	photoPreview      = models.Size{Width: 3868, Height: 1934}
	unstitchedPreview = models.Size{Width: 960, Height: 960}
	panoPreview       = models.Size{Width: 2900, Height: 2900}
	planeHighPreview  = models.Size{Width: 1932, Height: 1932}
)

// Extras carries the mode-specific knobs a caller may set. Zero values take
// the mode defaults.
type Extras struct {
	AspectRatio     string          `json:"aspect_ratio,omitempty"`
	LensField       int             `json:"lens_field,omitempty"`
	LapseMultiplier int             `json:"lapse_multiplier,omitempty"`
	MainLens        bool            `json:"main_lens,omitempty"`
	HighFps         bool            `json:"high_fps,omitempty"`
	Encoding        models.Encoding `json:"encoding,omitempty"`
}

// Request is one mode/label selection to be turned into a Bundle
type Request struct {
	Mode   models.CaptureMode     `json:"mode"`
	Label  models.ResolutionLabel `json:"label"`
	Pro    models.ProParameters   `json:"pro"`
	Extras Extras                 `json:"extras"`
}

// variant derives the mode-specific half of a bundle. ok is false when the
// label is not supported by the mode.
type variant struct {
	defaultLabel models.ResolutionLabel
	derive       func(req Request) (b models.Bundle, ok bool)
}

var variants = map[models.CaptureMode]variant{
	models.ModePhoto:           {models.Label5_7K, derivePhoto},
	models.ModeVideoUnstitched: {models.Label5_7K, deriveUnstitched},
	models.ModeVideoPlane:      {models.Label5_7K, derivePlane},
	models.ModeVideoVlog:       {models.Label5_7K, fixed5_7K},
	models.ModeVideoTimelapse:  {models.Label5_7K, deriveTimelapse},
	models.ModeLivePanorama:    {models.Label1080P, deriveLivePanorama},
	models.ModeLiveScreen:      {models.Label1080P, deriveLiveScreen},
}

// Resolver turns selections into bundles. It holds no state beyond its policy.
type Resolver struct {
	// Strict rejects unsupported mode/label pairs instead of substituting
	// defaults.
	Strict bool
}

// Resolve derives the bundle for req. Unknown modes fall back to photo
// defaults, unsupported labels to the mode default label; either sets
// Bundle.FellBack unless Strict is on.
func (r Resolver) Resolve(req Request) (models.Bundle, error) {
	fellBack := false

	v, ok := variants[req.Mode]
	if !ok {
		if r.Strict {
			return models.Bundle{}, invalid("unknown capture mode %q", req.Mode)
		}
		req.Mode = models.ModePhoto
		req.Label = ""
		v = variants[models.ModePhoto]
		fellBack = true
	}

	if req.Label == "" {
		req.Label = v.defaultLabel
	}

	b, ok := v.derive(req)
	if !ok {
		if r.Strict {
			return models.Bundle{}, invalid("label %q is not supported by mode %s", req.Label, req.Mode)
		}
		req.Label = v.defaultLabel
		req.Extras.AspectRatio = ""
		b, _ = v.derive(req)
		fellBack = true
	}

	b.Mode = req.Mode
	if b.Label == "" {
		b.Label = models.BaseLabel(req.Label)
	}
	b.Encoding = req.Extras.Encoding
	if b.Encoding == "" {
		b.Encoding = models.EncodingH264
	}
	b.Exposure = exposure(req.Pro)
	b.FellBack = fellBack
	return b, nil
}

// Resolve uses the lenient policy
func Resolve(req Request) (models.Bundle, error) {
	return Resolver{}.Resolve(req)
}

// PushSize is the stream size a live mode pushes for label and ratio
func PushSize(mode models.CaptureMode, label models.ResolutionLabel, ratio string) (models.Size, error) {
	if !mode.IsLive() {
		return models.Size{}, invalid("mode %s does not push a stream", mode)
	}
	b, err := Resolver{Strict: true}.Resolve(Request{
		Mode:   mode,
		Label:  label,
		Extras: Extras{AspectRatio: ratio},
	})
	if err != nil {
		return models.Size{}, err
	}
	return b.Output, nil
}

func exposure(p models.ProParameters) models.Exposure {
	e := models.Exposure{
		ExposureTime:         p.ExposureTime,
		ExposureCompensation: p.ExposureCompensation,
		WhiteBalance:         p.WhiteBalance,
	}
	if p.Manual() {
		iso := p.ISO
		e.ISO = &iso
	}
	return e
}

func invalid(format string, args ...interface{}) *models.Error {
	return &models.Error{Kind: models.KindInvalidCombination, Message: fmt.Sprintf(format, args...)}
}

func derivePhoto(req Request) (models.Bundle, bool) {
	b := models.Bundle{Preview: photoPreview, Fps: defaultFps, Lens: models.LensDouble}
	switch models.BaseLabel(req.Label) {
	case models.Label12K:
		b.LargePhoto = true
	case models.Label5_7K:
	default:
		return b, false
	}
	b.Output, _ = models.LabelSize(models.BaseLabel(req.Label))
	return b, true
}

func deriveUnstitched(req Request) (models.Bundle, bool) {
	b := models.Bundle{Preview: unstitchedPreview, Lens: models.LensDouble, DoubleStream: true}
	switch models.BaseLabel(req.Label) {
	case models.Label8K:
		b.Fps = 10
	case models.Label4K:
		b.Fps = highFps
	case models.Label5_7K:
		b.Fps = defaultFps
	default:
		return b, false
	}
	b.Output, _ = models.LabelSize(models.BaseLabel(req.Label))
	return b, true
}

func derivePlane(req Request) (models.Bundle, bool) {
	b := models.Bundle{
		Preview:     panoPreview,
		Fps:         defaultFps,
		Lens:        models.LensSub,
		AspectRatio: req.Extras.AspectRatio,
		LensField:   req.Extras.LensField,
	}
	if req.Extras.MainLens {
		b.Lens = models.LensMain
	}
	if req.Extras.HighFps {
		b.Preview = planeHighPreview
		b.Fps = highFps
	}
	if b.AspectRatio == "" {
		b.AspectRatio = DefaultAspectRatio
	}
	if b.LensField <= 0 {
		b.LensField = DefaultLensField
	}

	size, ok := models.LabelSize(req.Label)
	if !ok {
		return b, false
	}
	out, err := PlaneResolution(size, b.AspectRatio)
	if err != nil {
		return b, false
	}
	b.Output = out
	return b, true
}

func fixed5_7K(req Request) (models.Bundle, bool) {
	b := models.Bundle{Preview: panoPreview, Fps: defaultFps, Lens: models.LensDouble}
	b.Output, _ = models.LabelSize(models.Label5_7K)
	return b, models.BaseLabel(req.Label) == models.Label5_7K
}

func deriveTimelapse(req Request) (models.Bundle, bool) {
	b, ok := fixed5_7K(req)
	b.LapseMultiplier = req.Extras.LapseMultiplier
	if b.LapseMultiplier <= 0 {
		b.LapseMultiplier = DefaultLapseMultiplier
	}
	return b, ok
}

func deriveLivePanorama(req Request) (models.Bundle, bool) {
	b := models.Bundle{Preview: panoPreview, Fps: defaultFps, Lens: models.LensDouble}
	size, ok := models.LabelSize(req.Label)
	if !ok {
		return b, false
	}
	b.Output = size
	return b, true
}

func deriveLiveScreen(req Request) (models.Bundle, bool) {
	b := models.Bundle{Preview: panoPreview, Fps: defaultFps, Lens: models.LensDouble}
	b.AspectRatio = req.Extras.AspectRatio
	if b.AspectRatio == "" {
		b.AspectRatio = DefaultAspectRatio
	}
	size, ok := models.LabelSize(req.Label)
	if !ok {
		return b, false
	}
	out, err := PlaneResolution(size, b.AspectRatio)
	if err != nil {
		return b, false
	}
	b.Output = out
	return b, true
}
