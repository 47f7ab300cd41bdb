package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/care/sentry/internal/types"
)

// TimeLayout is the human readable timestamp carried by every message.
const TimeLayout = "2006-01-02 15:04:05"

const fileTimeLayout = "2006-01-02_15-04-05"

// SnapshotMessage is the text of the instant alert.
func SnapshotMessage(at time.Time) string {
	return fmt.Sprintf("🚨 **Security Alert**\nMotion detected at: %s\n(Instant snapshot)", at.Format(TimeLayout))
}

// ArtifactMessage describes one or more recorded files. The first artifact
// decides the tag and the capture time.
func ArtifactMessage(bundle []types.Artifact) string {
	if len(bundle) == 0 {
		return ""
	}
	var b strings.Builder
	switch bundle[0].Kind {
	case types.ArtifactAudio:
		b.WriteString("🎙️ **Audio Clip**")
	default:
		b.WriteString("📹 **Motion Clip**")
	}
	fmt.Fprintf(&b, "\nCaptured at: %s", bundle[0].ProducedAt.Format(TimeLayout))
	for _, a := range bundle {
		fmt.Fprintf(&b, "\nFile: `%s`", a.Name())
	}
	return b.String()
}
