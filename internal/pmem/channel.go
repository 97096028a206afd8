package pmem

import (
	"fmt"
	"log/slog"

	"github.com/virtkit/vpmem/internal/debug"
	"github.com/virtkit/vpmem/internal/virtio"
)

// flushQueueName is the single virtqueue the flush protocol runs over.
const flushQueueName = "flush_queue"

// channel is the completion channel: it carries flush commands to the host
// and harvests host acknowledgments. Completions happen only in hostAck.
type channel struct {
	transport virtio.Transport
	vq        virtio.Queue
	tracker   *tracker
	logger    *slog.Logger
}

// openChannel requests the flush queue from the transport. Failure is fatal
// for device bring-up and is never retried.
func openChannel(transport virtio.Transport, tr *tracker, logger *slog.Logger) (*channel, error) {
	ch := &channel{transport: transport, tracker: tr, logger: logger}
	vq, err := transport.FindQueue(flushQueueName, ch.hostAck)
	if err != nil {
		return nil, fmt.Errorf("pmem: open flush queue: %w", err)
	}
	ch.vq = vq
	return ch, nil
}

// submit places one flush command on the queue and kicks the host. The
// request's response buffer rides along for the host to fill.
// virtio.ErrQueueFull is transient; the caller decides how to retry.
func (c *channel) submit(req *pendingReq) error {
	out := virtio.EncodePmemReq(virtio.VIRTIO_PMEM_REQ_TYPE_FLUSH)
	req.resp = virtio.NewPmemResp()
	if err := c.vq.Submit(out, req.resp, req.token); err != nil {
		return err
	}
	if err := c.vq.Kick(); err != nil {
		return fmt.Errorf("pmem: kick flush queue: %w", err)
	}
	return nil
}

// hostAck is the used-buffer callback. The transport runs it serially per
// queue, but it races with submitters. It harvests every buffer the host
// has finished, in the order the host returned them, resolves each matching
// request and wakes its waiter. For every freed slot one parked submitter
// is woken.
func (c *channel) hostAck() {
	used := c.vq.Harvest()
	for _, u := range used {
		token := u.Token
		ok := c.tracker.complete(token, func(resp []byte) error {
			status, err := virtio.DecodePmemResp(resp)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrFlushIO, err)
			}
			if status != 0 {
				return fmt.Errorf("%w: host status %d", ErrFlushIO, status)
			}
			return nil
		})
		if !ok {
			c.logger.Error("pmem: host completed unknown token", "token", token)
			continue
		}
		debug.Writef("pmem.hostAck", "token=%d len=%d", token, u.Len)
		c.tracker.wakeOneParked()
	}
}

// shutdown fails any still-pending requests, then releases the queue. The
// drain must come first so no waiter is left blocked once the queue is gone.
func (c *channel) shutdown(result error) {
	c.tracker.drainAll(result)
	c.transport.DeleteQueues()
}
