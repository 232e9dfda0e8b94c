package listener

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs a set of Ports concurrently under one errgroup, so a single
// fatal error cancels the rest — component E's "listener pool".
type Pool struct {
	ports []*Port
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Add registers a port to be started by Run.
func (p *Pool) Add(port *Port) {
	p.ports = append(p.ports, port)
}

// Run starts every registered port and blocks until ctx is cancelled or one
// port's accept loop returns an error.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, port := range p.ports {
		port := port
		g.Go(func() error {
			return port.Run(ctx)
		})
	}
	return g.Wait()
}
