package models

// ExposureAuto is the ExposureTime value that leaves exposure to the camera
const ExposureAuto = 0

// ProParameters are the user's manual exposure settings
type ProParameters struct {
	ExposureTime         int    `json:"exposure_time" mapstructure:"exposureTime"`
	ExposureCompensation int    `json:"exposure_compensation" mapstructure:"exposureCompensation"`
	WhiteBalance         string `json:"white_balance" mapstructure:"whiteBalance"`
	ISO                  int    `json:"iso" mapstructure:"iso"`
}

// Manual reports whether exposure time is set by hand
func (p ProParameters) Manual() bool {
	return p.ExposureTime != ExposureAuto
}

// Exposure is the engine-ready form of ProParameters. ISO is nil unless
// exposure is manual.
type Exposure struct {
	ExposureTime         int    `json:"exposure_time"`
	ExposureCompensation int    `json:"exposure_compensation"`
	WhiteBalance         string `json:"white_balance"`
	ISO                  *int   `json:"iso,omitempty"`
}

// Encoding is the video codec used for recording and pushing
type Encoding string

// Encoding constants
const (
	EncodingH264 Encoding = "h264"
	EncodingH265 Encoding = "h265"
)

// Lens selects which sensors feed the preview
type Lens string

// Lens constants
const (
	LensDouble Lens = "double"
	LensMain   Lens = "main"
	LensSub    Lens = "sub"
)

// Bundle is the fully resolved parameter set handed to the capture engine
type Bundle struct {
	Mode     CaptureMode     `json:"mode"`
	Label    ResolutionLabel `json:"label"`
	Preview  Size            `json:"preview"`
	Fps      int             `json:"fps"`
	Lens     Lens            `json:"lens"`
	Output   Size            `json:"output"`
	Encoding Encoding        `json:"encoding"`
	Exposure Exposure        `json:"exposure"`

	AspectRatio     string `json:"aspect_ratio,omitempty"`
	LensField       int    `json:"lens_field,omitempty"`
	LapseMultiplier int    `json:"lapse_multiplier,omitempty"`
	DoubleStream    bool   `json:"double_stream"`
	LargePhoto      bool   `json:"large_photo"`

	// FellBack is set when the requested mode/label pair was unsupported and
	// defaults were substituted.
	FellBack bool `json:"fell_back"`
}

// PreviewSettings are applied after every successful resolution change
type PreviewSettings struct {
	Stabilization bool   `json:"stabilization" mapstructure:"stabilization"`
	SteadyFollow  bool   `json:"steady_follow" mapstructure:"steadyFollow"`
	AntiFlicker   string `json:"anti_flicker" mapstructure:"antiFlicker"`
	HDR           bool   `json:"hdr" mapstructure:"hdr"`
}

// FollowAxis is the stabilization follow direction derived for a mode
type FollowAxis string

// FollowAxis constants
const (
	FollowHorizontal FollowAxis = "horizontal"
	FollowBoth       FollowAxis = "both"
)
