package pipeline

import "context"

// Gate bounds concurrent calls into the extraction engine across the whole
// process, so pool workers and synchronous re-analysis requests share one
// cap instead of stacking up against a single-instance model.
type Gate struct {
	sem chan struct{}
}

func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{sem: make(chan struct{}, n)}
}

func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) Release() {
	<-g.sem
}
