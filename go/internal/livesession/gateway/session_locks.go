package gateway

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const sessionLockStripes = 64

// sessionLocks serializes work on a single session. Sessions hash onto a fixed
// set of mutexes, so two sessions may share a stripe but one session always
// maps to the same one.
type sessionLocks struct {
	stripes [sessionLockStripes]sync.Mutex
}

func (l *sessionLocks) lock(sessionID string) func() {
	mu := &l.stripes[xxhash.Sum64String(sessionID)%sessionLockStripes]
	mu.Lock()
	return mu.Unlock
}
