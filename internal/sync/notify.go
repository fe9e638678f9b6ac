package sync

import "sync"

// pendingNotifier holds the externally-observed pending-count signal.
// UI observers subscribe for banner updates; they never participate in
// correctness, so sends are non-blocking latest-value-wins.
type pendingNotifier struct {
	mu    sync.Mutex
	count int
	subs  []chan int
}

func newPendingNotifier() *pendingNotifier {
	return &pendingNotifier{}
}

func (n *pendingNotifier) get() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.count
}

func (n *pendingNotifier) set(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.count = count
	n.publishLocked()
}

// add adjusts the count by delta and returns the new value.
func (n *pendingNotifier) add(delta int) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.count += delta
	n.publishLocked()

	return n.count
}

func (n *pendingNotifier) subscribe() <-chan int {
	ch := make(chan int, 1)

	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()

	return ch
}

// publishLocked pushes the current count to every subscriber, replacing any
// unread stale value. Caller must hold n.mu.
func (n *pendingNotifier) publishLocked() {
	for _, ch := range n.subs {
		select {
		case <-ch:
		default:
		}

		select {
		case ch <- n.count:
		default:
		}
	}
}

// lossLog accumulates drop events for the status surface.
type lossLog struct {
	mu     sync.Mutex
	events []LossEvent
}

func newLossLog() *lossLog {
	return &lossLog{}
}

func (l *lossLog) record(ev LossEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
}

func (l *lossLog) all() []LossEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LossEvent, len(l.events))
	copy(out, l.events)

	return out
}
