// Package hostsim is an in-process host side for the pmem driver: a
// virtio.Transport with a single flush queue whose commands are completed
// asynchronously by a host goroutine. It backs tests and the simulator
// binary; latency, queue depth and failure injection are configurable.
package hostsim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/virtkit/vpmem/internal/virtio"
)

// ErrQueueDeleted is returned by Submit after DeleteQueues.
var ErrQueueDeleted = errors.New("hostsim: queue deleted")

// Options configure a simulated host.
type Options struct {
	// DeviceID reported by the transport. Zero means virtio-pmem.
	DeviceID uint16
	// DisableConfigAccess simulates a transport with config space access
	// turned off.
	DisableConfigAccess bool
	// ShmRegion, when non-nil, exposes the pmem range as a shared memory
	// region capability. The config fields stay readable regardless.
	ShmRegion *virtio.ShmRegion
	// Start and Size populate the device config fields.
	Start uint64
	Size  uint64
	// QueueSlots is the flush queue depth. Zero means 64.
	QueueSlots int
	// Latency and Jitter delay each completion batch.
	Latency time.Duration
	Jitter  time.Duration
	// FailFlush makes the host report every flush as failed.
	FailFlush bool
	// FindQueueErr injects a queue-acquisition failure at bring-up.
	FindQueueErr error
	// Backend persists the range. nil means a volatile in-memory backend
	// sized from Size.
	Backend Backend
	// Logger may be nil.
	Logger *slog.Logger
}

// Host simulates the device side of a virtio-pmem transport.
type Host struct {
	opts    Options
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	q       *flushQueue
	stop    chan struct{}
	wg      sync.WaitGroup
	ready   bool
	resets  int
	deleted bool

	configReads int
}

// New creates a simulated host.
func New(opts Options) *Host {
	if opts.DeviceID == 0 {
		opts.DeviceID = virtio.VIRTIO_ID_PMEM
	}
	if opts.QueueSlots == 0 {
		opts.QueueSlots = 64
	}
	backend := opts.Backend
	if backend == nil {
		backend = NewMemBackend(opts.Size)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{opts: opts, backend: backend, logger: logger}
}

// DeviceID implements virtio.Transport.
func (h *Host) DeviceID() uint16 {
	return h.opts.DeviceID
}

// ConfigAccess implements virtio.Transport.
func (h *Host) ConfigAccess() bool {
	return !h.opts.DisableConfigAccess
}

// ReadConfigLE64 implements virtio.Transport.
func (h *Host) ReadConfigLE64(offset uint16) (uint64, error) {
	if h.opts.DisableConfigAccess {
		return 0, virtio.ErrConfigAccess
	}
	h.mu.Lock()
	h.configReads++
	h.mu.Unlock()
	switch offset {
	case virtio.PmemConfigStart:
		return h.opts.Start, nil
	case virtio.PmemConfigSize:
		return h.opts.Size, nil
	default:
		return 0, fmt.Errorf("hostsim: bad config offset %d", offset)
	}
}

// ShmRegion implements virtio.Transport.
func (h *Host) ShmRegion(id uint8) (virtio.ShmRegion, bool) {
	if h.opts.ShmRegion == nil || id != virtio.VIRTIO_PMEM_SHMCAP_ID_PMEM_REGION {
		return virtio.ShmRegion{}, false
	}
	return *h.opts.ShmRegion, true
}

// FindQueue implements virtio.Transport. Only the flush queue exists.
func (h *Host) FindQueue(name string, used func()) (virtio.Queue, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.FindQueueErr != nil {
		return nil, h.opts.FindQueueErr
	}
	if name != "flush_queue" {
		return nil, fmt.Errorf("%w: unknown queue %q", virtio.ErrNoQueue, name)
	}
	if h.q != nil {
		return nil, fmt.Errorf("%w: queue already claimed", virtio.ErrNoQueue)
	}

	h.q = &flushQueue{
		slots:  h.opts.QueueSlots,
		kick:   make(chan struct{}, 1),
		usedCb: used,
	}
	h.stop = make(chan struct{})
	h.deleted = false
	h.wg.Add(1)
	go h.complete(h.q, h.stop)
	return h.q, nil
}

// DeleteQueues implements virtio.Transport. After it returns the used
// callback will not run again.
func (h *Host) DeleteQueues() {
	h.mu.Lock()
	if h.q == nil {
		h.mu.Unlock()
		return
	}
	q := h.q
	stop := h.stop
	h.q = nil
	h.deleted = true
	h.mu.Unlock()

	close(stop)
	h.wg.Wait()
	q.close()
}

// SetReady implements virtio.Transport.
func (h *Host) SetReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = true
}

// Reset implements virtio.Transport. Traffic stops; pending commands are
// dropped, as a real device reset would.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = false
	h.resets++
	if h.q != nil {
		h.q.close()
	}
}

// Ready reports whether the driver marked the device ready.
func (h *Host) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Resets returns how often the device was reset.
func (h *Host) Resets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resets
}

// QueueCount returns the number of live queues, for leak checks.
func (h *Host) QueueCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.q == nil {
		return 0
	}
	return 1
}

// ConfigReads returns how many config fields were read.
func (h *Host) ConfigReads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configReads
}

// Backend returns the persistence backend.
func (h *Host) Backend() Backend {
	return h.backend
}

// complete is the host goroutine: it waits for kicks, persists the backend
// once per batch, fills in response statuses and reports used buffers. It is
// the only caller of usedCb, which gives the transport's serial-callback
// guarantee.
func (h *Host) complete(q *flushQueue, stop chan struct{}) {
	defer h.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-q.kick:
		}
		for {
			cmds := q.takeInflight()
			if len(cmds) == 0 {
				break
			}
			if h.opts.Latency > 0 {
				d := h.opts.Latency
				if h.opts.Jitter > 0 {
					d += time.Duration(rand.Int63n(int64(h.opts.Jitter)))
				}
				select {
				case <-stop:
					return
				case <-time.After(d):
				}
			}

			var status uint32
			if h.opts.FailFlush {
				status = 1
			} else if err := h.backend.Persist(); err != nil {
				h.logger.Error("hostsim: persist failed", "err", err)
				status = 1
			}
			for _, cmd := range cmds {
				st := status
				if len(cmd.out) < 4 || binary.LittleEndian.Uint32(cmd.out) != virtio.VIRTIO_PMEM_REQ_TYPE_FLUSH {
					st = 1
				}
				if len(cmd.in) >= 4 {
					binary.LittleEndian.PutUint32(cmd.in, st)
				}
				q.pushUsed(virtio.Used{Token: cmd.token, Len: 4})
			}
			q.usedCb()
		}
	}
}

var _ virtio.Transport = (*Host)(nil)

type command struct {
	token uint64
	out   []byte
	in    []byte
}

// flushQueue is the single simulated virtqueue.
type flushQueue struct {
	mu       sync.Mutex
	slots    int
	inflight []command
	used     []virtio.Used
	// outstanding counts descriptors held by the device: submitted and not
	// yet harvested back by the driver.
	outstanding int
	closed      bool

	kick   chan struct{}
	usedCb func()
}

// Submit implements virtio.Queue.
func (q *flushQueue) Submit(out, in []byte, token uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueDeleted
	}
	if q.outstanding >= q.slots {
		return virtio.ErrQueueFull
	}
	q.outstanding++
	q.inflight = append(q.inflight, command{token: token, out: out, in: in})
	return nil
}

// Kick implements virtio.Queue.
func (q *flushQueue) Kick() error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueDeleted
	}
	select {
	case q.kick <- struct{}{}:
	default:
	}
	return nil
}

// Harvest implements virtio.Queue.
func (q *flushQueue) Harvest() []virtio.Used {
	q.mu.Lock()
	defer q.mu.Unlock()
	used := q.used
	q.used = nil
	q.outstanding -= len(used)
	return used
}

func (q *flushQueue) takeInflight() []command {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmds := q.inflight
	q.inflight = nil
	return cmds
}

func (q *flushQueue) pushUsed(u virtio.Used) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.used = append(q.used, u)
}

func (q *flushQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.inflight = nil
}

var _ virtio.Queue = (*flushQueue)(nil)
