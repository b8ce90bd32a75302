package rpcclient

import "sync"

// pendingRequests tracks in-flight requests keyed by id, pairing each with
// the channel its caller is waiting on. Exactly one of three things ever
// happens to an entry: a response resolves it, its deadline abandons it, or
// the connection closes and rejects it — resolve/abandon/rejectAll all
// delete the entry first, so a second event on the same id is a no-op.
type pendingRequests struct {
	mu      sync.Mutex
	waiters map[string]chan *message
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{waiters: make(map[string]chan *message)}
}

// register allocates the channel a caller waits on for id's response.
func (p *pendingRequests) register(id string) chan *message {
	ch := make(chan *message, 1)
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
	return ch
}

// resolve delivers msg to id's waiter, if one is still registered. Returns
// false if id is unknown (already resolved, abandoned, or never
// registered) — the caller should log and drop the message.
func (p *pendingRequests) resolve(id string, msg *message) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

// abandon removes id without delivering anything; used when its deadline
// fires. A response that arrives afterward finds no waiter and is dropped.
func (p *pendingRequests) abandon(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// rejectAll closes every still-pending waiter's channel, unblocking callers
// with a "no message" read. Used on Shutdown/disconnect.
func (p *pendingRequests) rejectAll() {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan *message)
	p.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}
