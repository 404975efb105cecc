package engine

import (
	"context"
	"sync"

	"github.com/taleweave/taleweave/internal/game"
)

// turnRequest is one queued action waiting to resolve.
type turnRequest struct {
	ctx      context.Context
	memberID string
	action   string
	reply    chan turnReply // buffered, size 1
}

type turnReply struct {
	result game.TurnResult
	err    error
}

// submitStatus is the outcome of offering a request to a worker queue.
type submitStatus int

const (
	submitOK submitStatus = iota
	submitFull
	submitClosed
)

// worker serializes turn resolution for one session. Requests resolve in
// submission order; turnMu is held for the whole of each resolution so
// Leave can wait for an in-flight turn to finish.
type worker struct {
	sessionID string

	mu     sync.Mutex
	closed bool
	queue  chan turnRequest

	// turnMu is held while a turn resolves.
	turnMu sync.Mutex
}

func newWorker(e *Engine, sessionID string, capacity int) *worker {
	w := &worker{
		sessionID: sessionID,
		queue:     make(chan turnRequest, capacity),
	}
	go w.run(e)
	return w
}

// run drains the queue until the worker stops. Queued requests accepted
// before the stop still resolve.
func (w *worker) run(e *Engine) {
	for req := range w.queue {
		w.turnMu.Lock()
		result, err := e.resolveTurn(req.ctx, w.sessionID, req.memberID, req.action)
		w.turnMu.Unlock()

		req.reply <- turnReply{result: result, err: err}
	}
}

// submit offers a request without blocking.
func (w *worker) submit(req turnRequest) submitStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return submitClosed
	}
	select {
	case w.queue <- req:
		return submitOK
	default:
		return submitFull
	}
}

// stop refuses further submissions and lets the run loop drain and exit.
func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.queue)
}
