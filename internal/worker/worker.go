// Package worker implements the cooperative, single-process virtual-user
// scheduler: each worker process runs its assigned share
// of virtual users as goroutines, selecting a weighted task, consulting the
// rate limiter, issuing the HTTP call, and publishing the resulting metric
// to the shared-memory ring buffer.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/loadforge/internal/httpclient"
	"github.com/torosent/loadforge/internal/metricmodel"
	"github.com/torosent/loadforge/internal/ratelimit"
	"github.com/torosent/loadforge/internal/scenario"
	"github.com/torosent/loadforge/internal/shm"
)

// Config bundles everything a Worker needs to run its share of virtual
// users against one scenario descriptor.
type Config struct {
	WorkerID    uint8
	Descriptor  scenario.Descriptor
	RatePerSec  float64       // this worker's share of the global rate limit, 0 = unlimited
	GracePeriod time.Duration // time in-flight HTTP calls get to finish before a hard cancel, default 5s
	Ring        *shm.RingBuffer
	Labels      *shm.LabelChannel
	Commands    *shm.CommandBlock
	Tracer      trace.Tracer // nil disables per-request spans
}

// Worker owns one OS process's share of virtual users. It starts and stops
// individual virtual-user goroutines in response to CommandBlock polls,
// always stopping the most-recently-started one first (LIFO) on scale
// down.
type Worker struct {
	cfg      Config
	selector *scenario.Selector
	client   *Client
	limiter  *ratelimit.Limiter

	mu    sync.Mutex
	users []*virtualUser
}

// Client is the httpclient.Client this worker's virtual users share,
// exported so the coordinator process can wire OnComplete/OnNewLabel
// callbacks before virtual users start issuing requests.
type Client = httpclient.Client

// virtualUser's cancel is derived from context.Background(), never from the
// ctx passed into Run, so an external shutdown signal can't bypass the
// grace period by propagating straight into an in-flight HTTP call. stop is
// the cooperative signal: it is only ever observed between loop iterations.
type virtualUser struct {
	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}
}

// New builds a Worker from cfg. It fails only if the descriptor has no
// tasks with positive weight.
func New(cfg Config) (*Worker, error) {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	selector, err := scenario.NewSelector(cfg.Descriptor.Tasks)
	if err != nil {
		return nil, err
	}
	client := httpclient.New(httpclient.Config{
		BaseURL:        cfg.Descriptor.BaseURL,
		DefaultHeaders: cfg.Descriptor.DefaultHeaders,
		Timeout:        30 * time.Second,
		WorkerID:       cfg.WorkerID,
		OnComplete: func(m metricmodel.RequestMetric) {
			cfg.Ring.Push(m)
		},
		OnNewLabel: func(l metricmodel.EndpointLabel) {
			if cfg.Labels != nil {
				cfg.Labels.Publish(l)
			}
		},
		Tracer: cfg.Tracer,
	})
	return &Worker{
		cfg:      cfg,
		selector: selector,
		client:   client,
		limiter:  ratelimit.New(cfg.RatePerSec, 0),
	}, nil
}

// SetRate reconfigures the worker's rate-limiter share. The coordinator does
// not call it: a worker process gets its share once, as Config.RatePerSec.
func (w *Worker) SetRate(ratePerSec float64) {
	w.limiter.SetRate(ratePerSec, 0)
}

// Run starts the worker's control loop: it polls the command block at a
// fixed cadence, scaling the live virtual-user count up or down to match
// the coordinator's target, and emits a heartbeat every 250ms. It blocks
// until ctx is cancelled or a stop command arrives, then gives every live
// virtual user up to GracePeriod to finish its in-flight call before
// cancelling it.
func (w *Worker) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(250 * time.Millisecond)
	defer heartbeat.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	if cfgTarget, stop := w.cfg.Commands.Read(); !stop {
		w.scaleTo(int(cfgTarget))
	}

	for {
		select {
		case <-ctx.Done():
			w.scaleTo(0)
			return ctx.Err()
		case <-heartbeat.C:
			w.cfg.Ring.Heartbeat()
		case <-poll.C:
			target, stop := w.cfg.Commands.Read()
			if stop {
				w.scaleTo(0)
				return nil
			}
			w.scaleTo(int(target))
		}
	}
}

// scaleTo adjusts the live virtual-user count to target, starting new ones
// or stopping the newest ones first. New virtual users get a context
// derived from context.Background(), decoupled from any externally
// cancellable context, so only scaleTo's own grace-period/hard-cancel
// sequence ever tears one down.
func (w *Worker) scaleTo(target int) {
	w.mu.Lock()
	for len(w.users) < target {
		uctx, cancel := context.WithCancel(context.Background())
		vu := &virtualUser{cancel: cancel, stop: make(chan struct{}), done: make(chan struct{})}
		w.users = append(w.users, vu)
		go w.runVirtualUser(uctx, vu)
	}
	var toStop []*virtualUser
	for len(w.users) > target {
		last := w.users[len(w.users)-1]
		w.users = w.users[:len(w.users)-1]
		toStop = append(toStop, last)
	}
	w.mu.Unlock()

	for _, vu := range toStop {
		close(vu.stop)
	}
	w.waitOrCancel(toStop)
}

// waitOrCancel gives every user in users up to the worker's GracePeriod to
// exit on its own (having observed vu.stop between task iterations), then
// hard-cancels any still running and waits unboundedly for their actual
// exit, since teardown must still run to completion.
func (w *Worker) waitOrCancel(users []*virtualUser) {
	if len(users) == 0 {
		return
	}

	timer := time.NewTimer(w.cfg.GracePeriod)
	defer timer.Stop()

	remaining := make(map[*virtualUser]struct{}, len(users))
	for _, vu := range users {
		remaining[vu] = struct{}{}
	}

	done := make(chan *virtualUser, len(users))
	for _, vu := range users {
		go func(vu *virtualUser) {
			<-vu.done
			done <- vu
		}(vu)
	}

waitLoop:
	for len(remaining) > 0 {
		select {
		case vu := <-done:
			delete(remaining, vu)
		case <-timer.C:
			break waitLoop
		}
	}

	for vu := range remaining {
		vu.cancel()
		<-vu.done
	}
}

var vuSeedCounter int64

func (w *Worker) runVirtualUser(ctx context.Context, vu *virtualUser) {
	defer close(vu.done)
	seed := time.Now().UnixNano() ^ int64(w.cfg.WorkerID)<<40 ^ atomic.AddInt64(&vuSeedCounter, 1)
	r := rand.New(rand.NewSource(seed))

	if w.cfg.Descriptor.Setup != nil {
		_ = w.cfg.Descriptor.Setup(ctx)
	}
	defer func() {
		if w.cfg.Descriptor.Teardown != nil {
			_ = w.cfg.Descriptor.Teardown(context.Background())
		}
	}()

	for {
		select {
		case <-vu.stop:
			return
		default:
		}
		if ctx.Err() != nil {
			return
		}
		if err := w.limiter.Acquire(ctx); err != nil {
			return
		}
		task := w.selector.Select(r)
		_ = task.Run(ctx, w.client)

		think := w.cfg.Descriptor.ThinkTime(r)
		if think <= 0 {
			continue
		}
		timer := time.NewTimer(think)
		select {
		case <-vu.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
