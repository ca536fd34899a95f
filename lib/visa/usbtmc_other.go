//go:build !linux

package visa

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

func setUSBTMCTimeout(*os.File, time.Duration) error {
	return errors.New("usbtmc is only supported on linux")
}
