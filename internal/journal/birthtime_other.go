//go:build !linux && !darwin

package journal

import (
	"os"
	"time"
)

func birthTime(path string, info os.FileInfo) time.Time {
	return info.ModTime()
}
