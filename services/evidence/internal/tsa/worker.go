package tsa

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

// BundleStore is the slice of the evidence store the worker writes:
// the tsa_* fields, the only post-insert mutation the bundle schema allows.
type BundleStore interface {
	SetBundleTSARequested(ctx context.Context, bundleID string, at time.Time) error
	SetBundleTSAResult(ctx context.Context, bundleID string, res domain.TSAResult, receivedAt time.Time) error
	SetBundleTSAError(ctx context.Context, bundleID, reason string) error
}

type Request struct {
	BundleID   string
	BundleHash string
}

// Worker drains timestamp requests on its own context, detached from the
// request that created the bundle: cancelling the parent request never
// cancels an in-flight timestamp, and no failure here propagates anywhere
// except into the bundle's tsa_status.
type Worker struct {
	client *Client
	store  BundleStore
	log    *slog.Logger

	queue chan Request
	wg    sync.WaitGroup

	// mu guards closed so Enqueue from a late in-flight request can never
	// send on the closed queue.
	mu     sync.Mutex
	closed bool

	now         func() time.Time
	maxTries    uint
	minInterval time.Duration
}

func NewWorker(client *Client, store BundleStore, queueSize int, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Worker{
		client:      client,
		store:       store,
		log:         log,
		queue:       make(chan Request, queueSize),
		now:         time.Now,
		maxTries:    3,
		minInterval: 200 * time.Millisecond,
	}
}

// Start launches the drain loop. ctx should be the process context, not a
// request context.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-w.queue:
				if !ok {
					return
				}
				w.process(ctx, req)
			}
		}
	}()
}

// Stop drains nothing further; queued requests not yet processed stay
// pending in the store for external reconciliation. Safe to call more than
// once, and safe against concurrent Enqueue from still-draining handlers.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// Enqueue never blocks. False means the queue is full or the worker has
// stopped; either way the bundle keeps tsa_status=pending and is swept later.
func (w *Worker) Enqueue(bundleID, bundleHash string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- Request{BundleID: bundleID, BundleHash: bundleHash}:
		return true
	default:
		return false
	}
}

func (w *Worker) process(ctx context.Context, req Request) {
	defer func() {
		if r := recover(); r != nil {
			w.log.ErrorContext(ctx, "tsa worker recovered from panic", "bundle_id", req.BundleID, "panic", r)
		}
	}()

	if err := w.store.SetBundleTSARequested(ctx, req.BundleID, w.now().UTC()); err != nil {
		w.log.WarnContext(ctx, "could not mark tsa_requested_at", "bundle_id", req.BundleID, "err", err)
	}

	op := func() (domain.TSAResult, error) {
		res, err := w.client.Timestamp(ctx, req.BundleHash)
		if err != nil && !IsTransient(err) {
			return domain.TSAResult{}, backoff.Permanent(err)
		}
		return res, err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.minInterval

	res, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(w.maxTries))
	if err != nil {
		// Terminal for this request. No cross-request retry: the error state
		// is surfaced for operator or scheduled reconciliation.
		w.log.WarnContext(ctx, "tsa request failed", "bundle_id", req.BundleID, "err", err)
		if serr := w.store.SetBundleTSAError(ctx, req.BundleID, err.Error()); serr != nil {
			w.log.ErrorContext(ctx, "could not record tsa error state", "bundle_id", req.BundleID, "err", serr)
		}
		return
	}

	if err := w.store.SetBundleTSAResult(ctx, req.BundleID, res, w.now().UTC()); err != nil {
		w.log.ErrorContext(ctx, "could not store tsa result", "bundle_id", req.BundleID, "err", err)
		return
	}
	w.log.InfoContext(ctx, "bundle anchored at timestamp authority",
		"bundle_id", req.BundleID, "tsa_url", res.URL, "serial", res.Serial)
}
