package pmem

import (
	"errors"
	"fmt"
	"time"

	"github.com/virtkit/vpmem/internal/debug"
	"github.com/virtkit/vpmem/internal/virtio"
)

const (
	// submitAttempts bounds how often a flush retries a full queue before
	// surfacing the transient error.
	submitAttempts = 8
	// submitBackoff is the initial wait between attempts; it doubles per
	// attempt. A host-ack freeing a slot wakes the waiter early.
	submitBackoff = 50 * time.Microsecond
)

// Flush issues a durability barrier: it returns only once the host has
// acknowledged that all prior writes to the pmem range are persisted, or
// with the failure result recorded by teardown. Safe for concurrent use;
// distinct callers' flushes are unordered relative to each other.
//
// There is deliberately no caller-side timeout: a completion the host never
// sends blocks the caller until the device is removed.
func (d *Device) Flush() error {
	if d.removed.Load() {
		return ErrDeviceRemoved
	}

	req := d.tracker.enqueue()
	if req == nil {
		return ErrDeviceRemoved
	}
	debug.Writef("pmem.flush", "token=%d submit", req.token)

	backoff := submitBackoff
	for attempt := 0; ; attempt++ {
		err := d.ch.submit(req)
		if err == nil {
			break
		}
		if !errors.Is(err, virtio.ErrQueueFull) {
			d.tracker.abort(req)
			return err
		}
		if attempt+1 >= submitAttempts {
			d.tracker.abort(req)
			d.logger.Debug("pmem: flush queue full, retries exhausted",
				"token", req.token, "attempts", submitAttempts)
			return fmt.Errorf("pmem: submit flush: %w", virtio.ErrQueueFull)
		}

		// Park until a completion frees a slot, with a backoff bound so a
		// stalled host cannot pin us here past the retry budget. Teardown
		// drains parked requests too.
		d.tracker.park(req)
		select {
		case <-req.slotFree:
		case <-req.acked:
			return req.result
		case <-time.After(backoff):
			d.tracker.unpark(req)
		}
		backoff *= 2
	}

	<-req.acked
	debug.Writef("pmem.flush", "token=%d done err=%v", req.token, req.result)
	return req.result
}
