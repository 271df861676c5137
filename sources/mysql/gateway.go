package mysql

import (
	"fmt"
	"sort"
	"sync"

	"github.com/terrastream/mysql-cdc/sources/mysql/enumerator"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
)

const workerMailboxSize = 64

// localGateway is the in-process transport between the planner and its
// workers: one buffered mailbox per worker. Deliveries never block the planner
// loop; a full mailbox is reported as an error and the protocol's retry paths
// (re-request, re-solicit) recover.
type localGateway struct {
	mu      sync.Mutex
	workers map[int]chan enumerator.PlannerEvent
}

func newLocalGateway() *localGateway {
	return &localGateway{workers: make(map[int]chan enumerator.PlannerEvent)}
}

// register creates the worker's mailbox and returns the receive side.
func (g *localGateway) register(worker int) <-chan enumerator.PlannerEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	mailbox := make(chan enumerator.PlannerEvent, workerMailboxSize)
	g.workers[worker] = mailbox
	return mailbox
}

func (g *localGateway) deregister(worker int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.workers, worker)
}

func (g *localGateway) RegisteredWorkers() []int {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]int, 0, len(g.workers))
	for worker := range g.workers {
		ids = append(ids, worker)
	}
	sort.Ints(ids)
	return ids
}

func (g *localGateway) Assign(worker int, split splits.Split) error {
	return g.deliver(worker, enumerator.SplitAssignment{Split: split})
}

func (g *localGateway) Send(worker int, event enumerator.PlannerEvent) error {
	return g.deliver(worker, event)
}

func (g *localGateway) deliver(worker int, event enumerator.PlannerEvent) error {
	g.mu.Lock()
	mailbox, isOk := g.workers[worker]
	g.mu.Unlock()

	if !isOk {
		return fmt.Errorf("worker %d is not registered", worker)
	}

	select {
	case mailbox <- event:
		return nil
	default:
		return fmt.Errorf("worker %d mailbox is full", worker)
	}
}
