package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a pixel resolution
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%d*%d", s.Width, s.Height)
}

// IsZero reports whether the size is unset
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// ResolutionLabel names one entry of the device resolution catalog
type ResolutionLabel string

// Device resolution catalog
const (
	Label12K      ResolutionLabel = "12K"
	Label8K       ResolutionLabel = "8K"
	Label5_7K     ResolutionLabel = "5.7K"
	Label4K       ResolutionLabel = "4K"
	Label2_5K     ResolutionLabel = "2.5K"
	Label1080P    ResolutionLabel = "1080P"
	Label1080P916 ResolutionLabel = "1080P_9:16"
	Label1080P169 ResolutionLabel = "1080P_16:9"
	LabelStandard ResolutionLabel = "STANDARD"
	Label720P     ResolutionLabel = "720P"
	LabelSmooth   ResolutionLabel = "SMOOTH"
)

// ResolutionProfile pairs a catalog label with its pixel size
type ResolutionProfile struct {
	Label ResolutionLabel `json:"label"`
	Size  Size            `json:"size"`
}

var catalog = map[ResolutionLabel]Size{
	Label12K:      {11968, 5984},
	Label8K:       {7680, 3840},
	Label5_7K:     {5760, 2880},
	Label4K:       {3840, 1920},
	Label2_5K:     {2560, 1280},
	Label1080P:    {2160, 1080},
	Label1080P916: {1080, 1920},
	Label1080P169: {1920, 1080},
	LabelStandard: {1920, 960},
	Label720P:     {1440, 720},
	LabelSmooth:   {1280, 640},
}

// ResolutionCatalog returns all profiles ordered from highest to lowest width
func ResolutionCatalog() []ResolutionProfile {
	order := []ResolutionLabel{
		Label12K, Label8K, Label5_7K, Label4K, Label2_5K, Label1080P,
		Label1080P169, LabelStandard, Label720P, LabelSmooth, Label1080P916,
	}
	profiles := make([]ResolutionProfile, 0, len(order))
	for _, l := range order {
		profiles = append(profiles, ResolutionProfile{Label: l, Size: catalog[l]})
	}
	return profiles
}

// LabelSize returns the pixel size of a label. Labels in the display form
// "5.7K(5760*2880)" resolve to the size in parentheses.
func LabelSize(label ResolutionLabel) (Size, bool) {
	s := string(label)
	if open := strings.IndexByte(s, '('); open >= 0 && strings.HasSuffix(s, ")") {
		size, err := ParseSize(s[open+1 : len(s)-1])
		if err == nil {
			return size, true
		}
		s = s[:open]
	}
	size, ok := catalog[ResolutionLabel(s)]
	return size, ok
}

// BaseLabel strips the display suffix from a label, "4K(3840*2160)" -> "4K"
func BaseLabel(label ResolutionLabel) ResolutionLabel {
	s := string(label)
	if open := strings.IndexByte(s, '('); open >= 0 {
		return ResolutionLabel(s[:open])
	}
	return label
}

// ParseSize parses "W*H" or "WxH"
func ParseSize(s string) (Size, error) {
	sep := strings.IndexAny(s, "*x")
	if sep < 0 {
		return Size{}, fmt.Errorf("invalid size %q", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(s[:sep]))
	if err != nil {
		return Size{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(s[sep+1:]))
	if err != nil {
		return Size{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return Size{}, fmt.Errorf("invalid size %q", s)
	}
	return Size{Width: w, Height: h}, nil
}
