// internal/policy/policy.go

// Package policy decides the questions the sync and patch engines would
// otherwise put to an operator at a terminal.
package policy

import (
	"context"
	"fmt"
	"time"
)

// QuestionKind identifies what is being asked.
type QuestionKind int

const (
	// SyncParent asks whether the parent of a fork should be synced first.
	SyncParent QuestionKind = iota
	// WaitRateLimit asks whether to sleep through a long rate-limit window.
	WaitRateLimit
)

// Question is a single decision point.
type Question struct {
	Kind QuestionKind
	// Subject is the repository (owner/name) or operation concerned.
	Subject string
	// Wait is set for WaitRateLimit.
	Wait time.Duration
}

// Prompt renders the question for humans.
func (q Question) Prompt() string {
	switch q.Kind {
	case SyncParent:
		return fmt.Sprintf("%s is a fork. Sync its parent repository first?", q.Subject)
	case WaitRateLimit:
		return fmt.Sprintf("Rate limit hit during %s. Wait %s and retry?", q.Subject, q.Wait.Round(time.Second))
	}
	return q.Subject
}

// AutoConfirmPolicy answers questions.
type AutoConfirmPolicy interface {
	Confirm(ctx context.Context, q Question) (bool, error)
}

// Func adapts a function to AutoConfirmPolicy.
type Func func(ctx context.Context, q Question) (bool, error)

func (f Func) Confirm(ctx context.Context, q Question) (bool, error) {
	return f(ctx, q)
}

// Static answers by question kind without asking anyone.
type Static struct {
	SyncParent    bool
	WaitRateLimit bool
}

// Always says yes to everything.
var Always = Static{SyncParent: true, WaitRateLimit: true}

// Never says no to everything.
var Never = Static{}

func (s Static) Confirm(_ context.Context, q Question) (bool, error) {
	switch q.Kind {
	case SyncParent:
		return s.SyncParent, nil
	case WaitRateLimit:
		return s.WaitRateLimit, nil
	}
	return false, nil
}
