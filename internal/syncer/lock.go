// internal/syncer/lock.go
package syncer

import (
	"context"
	"strings"
	"sync"

	"github-fork-graph/internal/model"
)

// repoLocks gives each repository a single worker. A fork holds its own
// lock while it waits for its parent's, and fork chains are acyclic, so
// locks are always taken child first.
type repoLocks struct {
	mu    sync.Mutex
	locks map[string]*repoLock
}

type repoLock struct {
	sem  chan struct{}
	refs int
}

func newRepoLocks() *repoLocks {
	return &repoLocks{locks: make(map[string]*repoLock)}
}

// acquire blocks until ref is free or ctx ends. Logins and names are
// compared case-insensitively.
func (l *repoLocks) acquire(ctx context.Context, ref model.RepoRef) (func(), error) {
	key := strings.ToLower(ref.String())

	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &repoLock{sem: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
		return func() {
			<-lk.sem
			l.done(key, lk)
		}, nil
	case <-ctx.Done():
		l.done(key, lk)
		return nil, ctx.Err()
	}
}

func (l *repoLocks) done(key string, lk *repoLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}
