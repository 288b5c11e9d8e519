package ports

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNoFreePorts = errors.New("no free ports in configured range")

// Allocator hands out TCP ports from a fixed range, one per website.
// It is a non-authoritative in-memory view: on restart it starts empty
// and must be seeded from the job store via Reconcile before the
// scheduler accepts work, otherwise a fresh allocation could collide
// with a dev server that survived the restart.
type Allocator struct {
	mu    sync.Mutex
	first int
	last  int
	next  int

	byPort map[int]string
	bySite map[string]int
}

func NewAllocator(first, last int) (*Allocator, error) {
	if first <= 0 || last < first {
		return nil, fmt.Errorf("invalid port range %d-%d", first, last)
	}
	return &Allocator{
		first:  first,
		last:   last,
		next:   first,
		byPort: make(map[int]string),
		bySite: make(map[string]int),
	}, nil
}

// Allocate returns a port not held by any other website. Calling it
// again for a website that already holds a port returns that port.
func (a *Allocator) Allocate(websiteID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.bySite[websiteID]; ok {
		return port, nil
	}

	size := a.last - a.first + 1
	for i := 0; i < size; i++ {
		port := a.next
		a.next++
		if a.next > a.last {
			a.next = a.first
		}
		if _, taken := a.byPort[port]; taken {
			continue
		}
		a.byPort[port] = websiteID
		a.bySite[websiteID] = port
		return port, nil
	}
	return 0, ErrNoFreePorts
}

// Release frees the website's port. Releasing a website that holds
// nothing is a no-op.
func (a *Allocator) Release(websiteID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	port, ok := a.bySite[websiteID]
	if !ok {
		return
	}
	delete(a.bySite, websiteID)
	delete(a.byPort, port)
}

func (a *Allocator) PortOf(websiteID string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	port, ok := a.bySite[websiteID]
	return port, ok
}

func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byPort)
}

// Reconcile seeds the allocator with ports the job store says are
// held by running websites. Pairs outside the configured range are
// recorded anyway so they can never be double-assigned.
func (a *Allocator) Reconcile(held map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for websiteID, port := range held {
		if owner, taken := a.byPort[port]; taken && owner != websiteID {
			continue
		}
		a.byPort[port] = websiteID
		a.bySite[websiteID] = port
	}
}
