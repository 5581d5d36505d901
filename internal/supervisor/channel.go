package supervisor

import "time"

// Pubsub is the control channel between the manager and everything that can
// command it: worker process watchers, the HTTP control API, the reloader,
// and the manager's own signal handler.
//
// It is a many-producer, single-consumer conduit. Send may be called from
// any goroutine; Poll and Recv must only be called from the manager's
// control loop. The empty string is the stop sentinel.
type Pubsub struct {
	ch      chan string
	pending *string
}

// NewPubsub creates a control channel.
func NewPubsub() *Pubsub {
	return &Pubsub{ch: make(chan string, 64)}
}

// Send publishes a message. Blocks if the channel buffer is full.
func (p *Pubsub) Send(msg string) {
	p.ch <- msg
}

// Poll waits up to timeout for a message to become available. A message
// made visible by Poll stays pending until Recv consumes it, so repeated
// polls are safe.
func (p *Pubsub) Poll(timeout time.Duration) bool {
	if p.pending != nil {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-p.ch:
		p.pending = &msg
		return true
	case <-timer.C:
		return false
	}
}

// Recv returns the pending message. Call only after Poll reported true;
// otherwise it returns the stop sentinel.
func (p *Pubsub) Recv() string {
	if p.pending == nil {
		return ""
	}
	msg := *p.pending
	p.pending = nil
	return msg
}
