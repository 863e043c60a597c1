package pipeline

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"

	"paperpipe/internal/stage"
)

// ErrLocked reports that another run holds the working directory.
var ErrLocked = errors.New("another paperpipe run holds the lock")

func acquireLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, stage.Wrap(stage.ErrEnvironment, "", "lock", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %w (%s)", stage.ErrEnvironment, ErrLocked, path)
	}
	return lock, nil
}
