package models

import "fmt"

// CaptureMode selects how the camera is driven for a session
type CaptureMode string

// CaptureMode constants
const (
	ModePhoto           CaptureMode = "photo"
	ModeVideoUnstitched CaptureMode = "video_unstitched"
	ModeVideoPlane      CaptureMode = "video_plane"
	ModeVideoVlog       CaptureMode = "video_vlog"
	ModeVideoTimelapse  CaptureMode = "video_timelapse"
	ModeLivePanorama    CaptureMode = "live_panorama"
	ModeLiveScreen      CaptureMode = "live_screen"
)

// CaptureModes returns every supported mode
func CaptureModes() []CaptureMode {
	return []CaptureMode{
		ModePhoto,
		ModeVideoUnstitched,
		ModeVideoPlane,
		ModeVideoVlog,
		ModeVideoTimelapse,
		ModeLivePanorama,
		ModeLiveScreen,
	}
}

// ParseCaptureMode validates a mode name
func ParseCaptureMode(s string) (CaptureMode, error) {
	for _, m := range CaptureModes() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown capture mode %q", s)
}

// IsLive reports whether the mode pushes a live stream
func (m CaptureMode) IsLive() bool {
	return m == ModeLivePanorama || m == ModeLiveScreen
}

// IsVideo reports whether the mode records to a file
func (m CaptureMode) IsVideo() bool {
	switch m {
	case ModeVideoUnstitched, ModeVideoPlane, ModeVideoVlog, ModeVideoTimelapse:
		return true
	}
	return false
}

// FileSuffix is appended to generated file names for this mode
func (m CaptureMode) FileSuffix() string {
	switch m {
	case ModePhoto:
		return "_np"
	case ModeVideoPlane:
		return "_plv"
	case ModeVideoVlog:
		return "_vlv"
	case ModeVideoTimelapse:
		return "_tlv"
	case ModeLivePanorama, ModeLiveScreen:
		return "_lv"
	default:
		return "_nv"
	}
}
