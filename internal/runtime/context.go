package runtime

import (
	"sync/atomic"

	"github.com/durocore/duro/internal/query"
)

// Context is the process-wide "current persistence context" spec.md §5
// calls for: a reference a Behavior can reach for during its Signal method
// to run a nested query against the same runtime it's being driven by. It
// is deliberately narrow — read-only access via Query — since a Behavior
// mutating storage outside the apply cycle's own transaction would break
// the transactional guarantee the Apply Engine exists to provide.
type Context struct {
	Query *query.API
}

var current atomic.Pointer[Context]

// CurrentContext returns the persistence context of the apply cycle that
// is currently running, if any. The slot is process-wide, not tied to a
// goroutine: it is set for the duration of each apply cycle of a Runtime
// built with this package and cleared when the cycle ends; while no cycle
// is running it returns false.
func CurrentContext() (*Context, bool) {
	ctx := current.Load()
	if ctx == nil {
		return nil, false
	}
	return ctx, true
}

// enterContext installs ctx as the current context and returns the func
// that clears it, for apply.Engine.EnterContext to defer.
func enterContext(ctx *Context) func() {
	current.Store(ctx)
	return func() { current.Store(nil) }
}
