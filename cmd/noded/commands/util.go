package commands

import (
	"errors"
	"os"

	"github.com/relaychain/noded/internal/reactorerr"
)

func homeDirOrDot() (string, error) {
	return os.UserHomeDir()
}

// ExitCode maps a fatal error kind of spec §7 to a distinct non-zero
// process exit code, so operators and supervisors can distinguish causes
// without parsing log lines.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var storageErr *reactorerr.StorageCorrupted
	if errors.As(err, &storageErr) {
		return 2
	}
	var upgradeErr *reactorerr.UpgradeTimeout
	if errors.As(err, &upgradeErr) {
		return 3
	}
	var configErr *reactorerr.ConfigInvalid
	if errors.As(err, &configErr) {
		return 4
	}
	return 1
}
