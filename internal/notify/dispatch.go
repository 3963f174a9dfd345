package notify

import (
	"context"
	"fmt"
	"hash/fnv"

	"golang.org/x/sync/errgroup"

	"github.com/pegesund/concentratee-cache-sub000/internal/obslog"
)

// dispatchPool fans notifications out across a fixed set of worker
// goroutines, hash-partitioned on "channel:id" so that same-id
// notifications always land on the same worker and are therefore applied
// in arrival order, while distinct ids proceed concurrently (§5). Built
// with golang.org/x/sync/errgroup for the worker supervisor, paired with
// the subscriber's own reconnect loop (SPEC_FULL.md §5).
type dispatchPool struct {
	dispatcher Dispatcher
	lanes      []chan Notification
	group      *errgroup.Group
}

func newDispatchPool(dispatcher Dispatcher, width int) *dispatchPool {
	if width < 1 {
		width = 1
	}
	lanes := make([]chan Notification, width)
	for i := range lanes {
		lanes[i] = make(chan Notification, 256)
	}
	return &dispatchPool{dispatcher: dispatcher, lanes: lanes}
}

// run starts one goroutine per lane and blocks until ctx is canceled.
// Waiting for the lane workers to exit is left to stop.
func (p *dispatchPool) run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	for i, lane := range p.lanes {
		lane := lane
		idx := i
		g.Go(func() error {
			return p.worker(gctx, idx, lane)
		})
	}
	<-ctx.Done()
}

func (p *dispatchPool) worker(ctx context.Context, idx int, lane chan Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-lane:
			if err := p.dispatcher.Dispatch(ctx, n); err != nil {
				obslog.Error("handler dispatch failed", err,
					obslog.Channel(n.Channel), obslog.Int("lane", idx), obslog.Int64("entity_id", n.ID))
			}
		}
	}
}

// submit routes n to the lane determined by hashing its channel and id,
// blocking briefly if that lane's buffer is full rather than dropping a
// change notification (notifications, unlike market ticks, must not be
// silently lost).
func (p *dispatchPool) submit(n Notification) {
	lane := p.lanes[laneFor(n, len(p.lanes))]
	lane <- n
}

func laneFor(n Notification, width int) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s:%d", n.Channel, n.ID)
	return int(h.Sum32()) % width
}

func (p *dispatchPool) stop() {
	if p.group != nil {
		_ = p.group.Wait()
	}
}
