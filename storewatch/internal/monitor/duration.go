package monitor

import (
	"fmt"
	"time"
)

// FormatDuration renders d the way the monitor displays elapsed time:
// hours and minutes once an hour has passed, minutes and seconds once a
// minute has passed, seconds otherwise. Sub-second parts are truncated.
func FormatDuration(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%d小时 %d分钟", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%d分钟 %d秒", minutes, seconds%60)
	default:
		return fmt.Sprintf("%d秒", seconds)
	}
}
