package models

import (
	"fmt"
	"time"
)

// FormatClock renders seconds as HH:MM:SS
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

// FormatBitrate renders a rate using 1024-based Kbps/Mbps units
func FormatBitrate(bps int64) string {
	if bps < 1024*1024 {
		return fmt.Sprintf("%d Kbps", bps/1024)
	}
	return fmt.Sprintf("%d Mbps", bps/(1024*1024))
}

// MediaFileName is the extension-less name for media captured at t in mode,
// e.g. "240131_094512037_plv"
func MediaFileName(t time.Time, mode CaptureMode) string {
	return fmt.Sprintf("%s%03d%s", t.Format("060102_150405"), t.Nanosecond()/int(time.Millisecond), mode.FileSuffix())
}
