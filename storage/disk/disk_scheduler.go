package disk

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

var ErrClosed = errors.New("scheduler closed")

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(ds *Scheduler) {
		ds.logger = logger
	}
}

func NewScheduler(dm *Manager, opts ...Option) *Scheduler {
	ds := &Scheduler{
		reqCh:   make(chan Request, 100),
		queues:  xsync.NewMapOf[blockKey, *blockQueue](),
		manager: dm,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(ds)
	}

	go ds.handleDiskReq()
	return ds
}

func NewRequest(dev, blockno uint32, data []byte, isWrite bool) Request {
	return Request{
		Dev:     dev,
		BlockNo: blockno,
		Data:    data,
		Write:   isWrite,
		RespCh:  make(chan Response, 1),
	}
}

// Schedule queues req and returns the channel its response is delivered on.
// Requests for the same block are served in the order they were scheduled.
// After Close, req is answered with ErrClosed.
func (ds *Scheduler) Schedule(req Request) <-chan Response {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if ds.closed {
		go func() {
			req.RespCh <- Response{Success: false, Err: ErrClosed}
		}()
		return req.RespCh
	}

	ds.reqCh <- req
	return req.RespCh
}

// Transfer moves one block between data and the device, waiting for the
// request to complete.
func (ds *Scheduler) Transfer(dev, blockno uint32, data []byte, write bool) error {
	resp := <-ds.Schedule(NewRequest(dev, blockno, data, write))
	if !resp.Success {
		return fmt.Errorf("disk: transfer dev %d block %d: %w", dev, blockno, resp.Err)
	}

	if !write {
		copy(data, resp.Data)
	}

	return nil
}

// Close stops accepting requests. Requests already queued are still served.
// It is safe to call more than once and alongside Schedule.
func (ds *Scheduler) Close() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return
	}
	ds.closed = true
	close(ds.reqCh)
}

func (ds *Scheduler) handleDiskReq() {
	for req := range ds.reqCh {
		key := blockKey{dev: req.Dev, blockno: req.BlockNo}

		// a block has a worker for as long as its queue is in the map
		startWorker := false
		ds.queues.Compute(key, func(q *blockQueue, loaded bool) (*blockQueue, bool) {
			if !loaded {
				q = &blockQueue{}
				startWorker = true
			}
			q.reqs = append(q.reqs, req)
			return q, false
		})

		if startWorker {
			go ds.blockWorker(key)
		}
	}
}

func (ds *Scheduler) blockWorker(key blockKey) {
	for {
		var req Request
		found := false

		ds.queues.Compute(key, func(q *blockQueue, loaded bool) (*blockQueue, bool) {
			if !loaded || len(q.reqs) == 0 {
				return q, true
			}
			req, q.reqs = q.reqs[0], q.reqs[1:]
			found = true
			return q, false
		})

		if !found {
			return
		}
		ds.serve(req)
	}
}

func (ds *Scheduler) serve(req Request) {
	if req.Write {
		if err := ds.manager.writeBlock(req.Dev, req.BlockNo, req.Data); err != nil {
			ds.logger.Error("disk write failed", "dev", req.Dev, "block", req.BlockNo, "err", err)
			req.RespCh <- Response{Success: false, Err: err}
		} else {
			req.RespCh <- Response{Success: true}
		}
		return
	}

	if data, err := ds.manager.readBlock(req.Dev, req.BlockNo); err != nil {
		ds.logger.Error("disk read failed", "dev", req.Dev, "block", req.BlockNo, "err", err)
		req.RespCh <- Response{Success: false, Err: err}
	} else {
		req.RespCh <- Response{Success: true, Data: data}
	}
}

type Scheduler struct {
	mu      sync.RWMutex
	closed  bool
	reqCh   chan Request
	manager *Manager
	queues  *xsync.MapOf[blockKey, *blockQueue]
	logger  *slog.Logger
}

type blockKey struct {
	dev     uint32
	blockno uint32
}

type blockQueue struct {
	reqs []Request
}

type Request struct {
	Dev     uint32
	BlockNo uint32
	Data    []byte
	Write   bool
	RespCh  chan Response
}

type Response struct {
	Success bool
	Data    []byte
	Err     error
}
