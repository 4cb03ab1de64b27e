//go:build !linux && !darwin

package localdisk

import (
	"fmt"
	"runtime"
	"time"
)

const trashAvailable = false

func moveToTrash(_ string, _ time.Time) error {
	return fmt.Errorf("trash not available on %s", runtime.GOOS)
}
