package scheduler

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/shurikenbuild/shuriken/internal/fsx"
)

// isNotEmpty reports whether err denotes ENOTEMPTY, the one rmdir failure
// deleteBuildProduct tolerates: an ancestor directory that still has other
// occupants is left alone rather than treated as a fatal error.
func isNotEmpty(err error) bool {
	var ioErr *fsx.IoError
	if errors.As(err, &ioErr) {
		return ioErr.Code == unix.ENOTEMPTY
	}
	return false
}
