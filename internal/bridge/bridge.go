// Package bridge is the caller's side of the inference worker. It starts the worker on first use,
// shares a single readiness handshake between every caller, and runs estimate jobs one at a time
// in the order they were submitted.
package bridge

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/WIZARDISHUNGRY/depthcut/internal/depth"
	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
	"github.com/WIZARDISHUNGRY/depthcut/internal/logger"
	"github.com/WIZARDISHUNGRY/depthcut/internal/protocol"
	"github.com/WIZARDISHUNGRY/depthcut/internal/worker"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var errClosed = fault.New(fault.WorkerExited, "bridge closed")

type Option func(b *Bridge) error

func WithLogger(e *logrus.Entry) Option {
	return func(b *Bridge) error {
		if e == nil {
			return errors.New("nil logger")
		}
		b.log = e
		return nil
	}
}

type Bridge struct {
	ctx     context.Context
	spawner worker.Spawner
	log     *logrus.Entry

	startOnce sync.Once
	enc       *protocol.Encoder

	mutex       sync.Mutex
	conn        net.Conn
	readiness   *fsm.FSM
	jobs        *fsm.FSM
	backend     string
	err         error // terminal; set once
	ready       chan struct{}
	readyClosed bool
	pending     *job
	queue       []*job

	wake    chan struct{}
	settled chan struct{}
	done    chan struct{}
}

// New returns an idle bridge. Nothing is spawned until the first EnsureReady or RunDepth.
// The worker is torn down when ctx ends.
func New(ctx context.Context, spawner worker.Spawner, opts ...Option) (*Bridge, error) {
	if spawner == nil {
		return nil, errors.New("nil spawner")
	}
	b := &Bridge{
		ctx:     ctx,
		spawner: spawner,
		log:     logger.Entry(ctx).WithField("component", "bridge"),
		ready:   make(chan struct{}),
		wake:    make(chan struct{}, 1),
		settled: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		if err := o(b); err != nil {
			return nil, errors.Wrap(err, "bridge option")
		}
	}
	b.readiness = newReadinessFSM(b.log)
	b.jobs = newJobFSM(b.log)

	go func() {
		select {
		case <-ctx.Done():
			b.fail(fault.Wrap(ctx.Err(), fault.WorkerExited, "bridge context ended"))
		case <-b.done:
		}
	}()
	return b, nil
}

// EnsureReady starts the worker if needed and waits until it reports the backend it selected.
// Concurrent callers share one handshake.
func (b *Bridge) EnsureReady(ctx context.Context) (string, error) {
	b.startOnce.Do(func() { go b.start() })
	select {
	case <-b.ready:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.err != nil {
		return "", b.err
	}
	return b.backend, nil
}

// RunDepth queues an estimate job and waits for its depth map. Jobs run one at a time in
// submission order. A job whose ctx ends while queued is dropped without reaching the worker.
func (b *Bridge) RunDepth(ctx context.Context, image []byte) (*depth.Map, error) {
	if _, err := b.EnsureReady(ctx); err != nil {
		return nil, err
	}
	j := newJob(ctx, image)

	b.mutex.Lock()
	if b.err != nil {
		err := b.err
		b.mutex.Unlock()
		return nil, err
	}
	b.queue = append(b.queue, j)
	b.mutex.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}

	select {
	case r := <-j.C:
		return r.depth, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State reports the readiness and job machine states.
func (b *Bridge) State() (readiness, job string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.readiness.Current(), b.jobs.Current()
}

// Backend is empty until the worker is ready.
func (b *Bridge) Backend() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.backend
}

// Close stops the worker. Outstanding and later calls fail with a worker_exited error.
func (b *Bridge) Close() error {
	b.fail(errClosed)
	return nil
}

func (b *Bridge) start() {
	b.mutex.Lock()
	if b.err != nil {
		b.mutex.Unlock()
		return
	}
	b.mutex.Unlock()

	conn, err := b.spawner.Spawn(b.ctx)
	if err != nil {
		b.fail(fault.Wrap(err, fault.WorkerExited, "could not start inference worker"))
		return
	}

	b.mutex.Lock()
	if b.err != nil {
		b.mutex.Unlock()
		conn.Close()
		return
	}
	b.conn = conn
	b.enc = protocol.NewEncoder(conn)
	b.event(b.readiness, eventSpawn)
	b.mutex.Unlock()

	go b.readLoop(protocol.NewDecoder(conn))
	go b.dispatch()

	b.log.Debug("waiting for inference worker")
	if err := b.enc.Encode(protocol.ReadyCheck()); err != nil {
		b.fail(fault.Wrap(err, fault.WorkerExited, "sending ready-check"))
	}
}

func (b *Bridge) readLoop(dec *protocol.Decoder) {
	for {
		msg, err := dec.Decode()
		if err != nil {
			if err == io.EOF {
				err = errors.New("connection closed")
			}
			b.fail(fault.Wrap(err, fault.WorkerExited, "inference worker went away"))
			return
		}
		b.receive(msg)
	}
}

func (b *Bridge) receive(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeReady:
		b.mutex.Lock()
		defer b.mutex.Unlock()
		if b.readiness.Current() != stateAwaitingReady {
			b.log.WithField("backend", msg.Backend).Warn("unexpected ready")
			return
		}
		b.backend = msg.Backend
		b.event(b.readiness, eventReady)
		b.closeReady()
		b.log.WithField("backend", msg.Backend).Info("inference worker ready")
	case protocol.TypeEstimateResult, protocol.TypeError:
		b.settle(msg)
	default:
		b.log.WithField("type", msg.Type).Warn("unexpected message from worker")
	}
}

func (b *Bridge) settle(msg *protocol.Message) {
	b.mutex.Lock()
	if msg.Type == protocol.TypeError && b.readiness.Current() == stateAwaitingReady {
		b.mutex.Unlock()
		kind := msg.Kind
		if kind == "" {
			kind = fault.NoBackendAvailable
		}
		b.fail(fault.New(kind, "%s", text(msg)))
		return
	}
	j := b.pending
	if j == nil {
		b.mutex.Unlock()
		b.log.WithField("id", msg.ID).Warn("response with no job in flight")
		return
	}
	if msg.ID != j.id {
		// the in-flight job keeps waiting for its own reply
		b.mutex.Unlock()
		b.log.WithError(fault.New(fault.ProtocolError, "response for job %q while %q was in flight", msg.ID, j.id)).
			Warn("dropping response")
		return
	}
	b.pending = nil
	b.event(b.jobs, eventSettle)
	b.mutex.Unlock()

	switch {
	case msg.Type == protocol.TypeError:
		j.resolve(nil, fault.New(fault.InferenceFailed, "%s", text(msg)))
	default:
		d, err := msg.Depth.Map()
		if err != nil {
			j.resolve(nil, fault.Wrap(err, fault.ProtocolError, "invalid depth map from worker"))
		} else {
			j.resolve(d, nil)
		}
	}

	select {
	case b.settled <- struct{}{}:
	default:
	}
}

func (b *Bridge) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}
		for {
			j, ok := b.next()
			if !ok {
				break
			}
			b.log.WithField("id", j.id).Debug("estimate")
			if err := b.enc.Encode(protocol.Estimate(j.id, j.image)); err != nil {
				b.fail(fault.Wrap(err, fault.WorkerExited, "sending estimate"))
				return
			}
			select {
			case <-b.settled:
			case <-b.done:
				return
			}
		}
	}
}

// next pops the oldest job that still has a caller and marks it in flight.
func (b *Bridge) next() (*job, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for len(b.queue) > 0 && b.err == nil {
		j := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		if err := j.ctx.Err(); err != nil {
			j.resolve(nil, err)
			continue
		}
		b.pending = j
		b.event(b.jobs, eventEstimate)
		return j, true
	}
	return nil, false
}

// fail moves the bridge to its terminal state and rejects every pending call.
func (b *Bridge) fail(err error) {
	b.mutex.Lock()
	if b.err != nil {
		b.mutex.Unlock()
		return
	}
	b.err = err
	b.event(b.readiness, eventFail)
	rejected := b.queue
	if b.pending != nil {
		rejected = append([]*job{b.pending}, rejected...)
		b.event(b.jobs, eventSettle)
	}
	b.pending, b.queue = nil, nil
	b.closeReady()
	close(b.done)
	conn := b.conn
	b.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, j := range rejected {
		j.resolve(nil, err)
	}
	if err == errClosed {
		b.log.Debug("bridge closed")
		return
	}
	b.log.WithError(err).Warn("inference worker unavailable")
}

// PRE: b.mutex held.
func (b *Bridge) closeReady() {
	if !b.readyClosed {
		b.readyClosed = true
		close(b.ready)
	}
}

func text(msg *protocol.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Kind != "" {
		return string(msg.Kind)
	}
	return "inference failed"
}
