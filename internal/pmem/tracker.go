package pmem

import (
	"sync"

	"github.com/virtkit/vpmem/internal/debug"
)

// pendingReq is one caller's in-flight flush. The caller blocks on acked;
// the tracker closes it exactly once, either from the host-ack path or from
// a teardown drain. After acked is closed the request belongs to the caller
// alone and result may be read without the lock.
type pendingReq struct {
	token uint64
	resp  []byte

	// Guarded by tracker.mu until acked is closed.
	done   bool
	result error

	// acked is closed when the request is completed or drained.
	acked chan struct{}

	// slotFree is signaled when a queue slot may have freed up while the
	// request was parked waiting to submit. Buffered so the ack path never
	// blocks on it.
	slotFree chan struct{}
	parked   bool
}

// tracker correlates in-flight flush requests with host completions. A
// single mutex guards membership and the done transition; it is never held
// while blocking or while calling into the transport.
type tracker struct {
	mu        sync.Mutex
	nextToken uint64
	inflight  map[uint64]*pendingReq
	// order holds requests in submission order. It is consulted only when
	// draining on teardown; completion matches by token.
	order []*pendingReq
	// parked holds requests waiting for a queue slot, oldest first.
	parked []*pendingReq
	// closed is set by drainAll; no request may enter afterwards.
	closed bool
}

func newTracker() *tracker {
	return &tracker{inflight: make(map[uint64]*pendingReq)}
}

// enqueue creates a new pending request and registers it as in-flight.
// Returns nil once the tracker has been drained: no request may join a
// device that is tearing down.
func (t *tracker) enqueue() *pendingReq {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.nextToken++
	req := &pendingReq{
		token:    t.nextToken,
		acked:    make(chan struct{}),
		slotFree: make(chan struct{}, 1),
	}
	t.inflight[req.token] = req
	t.order = append(t.order, req)
	return req
}

// complete resolves the request matching token. resolve computes the result
// from the request's response buffer; it must not block. Called only from
// the completion channel's host-ack path. Returns false when the token is
// unknown or already completed, which indicates a host protocol violation.
func (t *tracker) complete(token uint64, resolve func(resp []byte) error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.inflight[token]
	if !ok || req.done {
		debug.Writef("pmem.tracker", "completion for unknown token %d", token)
		return false
	}
	req.done = true
	req.result = resolve(req.resp)
	delete(t.inflight, token)
	t.dropOrderLocked(req)
	close(req.acked)
	return true
}

// abort removes a request that never made it onto the queue. The caller
// regains sole ownership.
func (t *tracker) abort(req *pendingReq) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if req.done {
		return
	}
	req.done = true
	delete(t.inflight, req.token)
	t.unparkLocked(req)
	t.dropOrderLocked(req)
	close(req.acked)
}

func (t *tracker) dropOrderLocked(req *pendingReq) {
	for i, p := range t.order {
		if p == req {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// drainAll fails every remaining request, parked or in-flight, and wakes all
// waiters. Used during teardown so no caller is left blocked once the
// channel goes away.
func (t *tracker) drainAll(result error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for _, req := range t.order {
		if req.done {
			continue
		}
		req.done = true
		req.result = result
		delete(t.inflight, req.token)
		close(req.acked)
	}
	t.order = nil
	t.parked = nil
}

// park registers the request as waiting for a queue slot.
func (t *tracker) park(req *pendingReq) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if req.done || req.parked {
		return
	}
	req.parked = true
	t.parked = append(t.parked, req)
}

// unpark removes the request from the parked list, if present.
func (t *tracker) unpark(req *pendingReq) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unparkLocked(req)
}

func (t *tracker) unparkLocked(req *pendingReq) {
	if !req.parked {
		return
	}
	req.parked = false
	for i, p := range t.parked {
		if p == req {
			t.parked = append(t.parked[:i], t.parked[i+1:]...)
			break
		}
	}
}

// wakeOneParked signals the oldest parked request that a queue slot may be
// free. Called from the host-ack path, once per harvested buffer.
func (t *tracker) wakeOneParked() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.parked) == 0 {
		return
	}
	req := t.parked[0]
	req.parked = false
	t.parked = t.parked[1:]
	select {
	case req.slotFree <- struct{}{}:
	default:
	}
}

// pendingCount returns the number of in-flight requests. Diagnostic only.
func (t *tracker) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}
