package pump

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/OrangeFox86/DreamPort/clock"
)

// Host runs one Node per physical bus. It does not hold the
// schedule.Scheduler: the caller creates it and passes the same one to
// every Node and schedule.Endpoint. Run starts all Nodes concurrently and
// stops them together when ctx is canceled.
type Host struct {
	clock clock.Source
	nodes []*Node
}

// NewHost returns a Host ticking its Nodes against source.
func NewHost(source clock.Source) *Host {
	return &Host{clock: source}
}

// AddNode registers a Node to be run by Run. Nodes should be added before
// Run is called; Host doesn't support adding a Node to an already-running
// Host.
func (h *Host) AddNode(n *Node) {
	h.nodes = append(h.nodes, n)
}

// Run starts one goroutine per Node, each ticking its bus in a tight poll
// loop, until ctx is canceled. It returns ctx.Err() once every Node has
// stopped.
func (h *Host) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, n := range h.nodes {
		n := n
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				default:
					n.Tick(h.clock.NowUS())
				}
			}
		})
	}
	return group.Wait()
}
