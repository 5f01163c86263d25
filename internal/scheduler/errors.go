package scheduler

import "github.com/jobs/integration-engine/pkg/errors"

// ErrNotLeader indicates the current engine instance does not hold the leader
// lock and therefore must not run the scheduling tick.
var ErrNotLeader = errors.New("not leader")
