// cmd/forkgraph/confirm.go
package main

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/huh"

	"github-fork-graph/internal/policy"
)

// promptPolicy asks the operator on the terminal. Questions from concurrent
// workers are asked one at a time.
type promptPolicy struct {
	mu  sync.Mutex
	in  io.Reader
	out io.Writer
}

func (p *promptPolicy) Confirm(ctx context.Context, q policy.Question) (bool, error) {
	return p.ask(ctx, q.Prompt())
}

func (p *promptPolicy) ask(ctx context.Context, title string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	).WithInput(p.in).WithOutput(p.out)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}
