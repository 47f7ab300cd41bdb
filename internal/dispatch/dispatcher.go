// Package dispatch delivers evidence to the alert transport: snapshots once
// and immediately, recordings with retries and cleanup.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/care/sentry/internal/types"
	"github.com/care/sentry/internal/webhook"
)

// Transport posts one multipart message.
type Transport interface {
	PostMultipart(ctx context.Context, fields map[string]string, files map[string]webhook.Attachment) (webhook.Response, error)
}

// ImageEncoder compresses a frame for the snapshot alert.
type ImageEncoder interface {
	EncodeJPEG(f types.Frame, quality int) ([]byte, error)
}

// Observer is told about every attempt and every final outcome.
type Observer interface {
	DeliveryAttempted(a types.DeliveryAttempt)
	DeliveryFinished(d types.Delivery)
}

type Options struct {
	MaxRetries      int
	RetryDelay      time.Duration
	JPEGQuality     int
	DeleteOnSuccess bool
	// AudioMergeWait is how long a finished recording waits for its audio
	// clip before the two are sent separately.
	AudioMergeWait time.Duration
}

// Dispatcher owns delivery. Dispatch* methods return immediately; the work
// runs on tracked goroutines that Wait can join at shutdown.
type Dispatcher struct {
	transport Transport
	encoder   ImageEncoder
	observer  Observer
	opts      Options
	now       func() time.Time

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New creates a dispatcher. observer may be nil.
func New(t Transport, enc ImageEncoder, opts Options, observer Observer) *Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 85
	}
	return &Dispatcher{
		transport: t,
		encoder:   enc,
		observer:  observer,
		opts:      opts,
		now:       time.Now,
	}
}

// DispatchSnapshot sends frame as the instant alert of eventID on its own
// goroutine. The frame is copied, so the caller may reuse its buffer.
func (d *Dispatcher) DispatchSnapshot(eventID string, frame types.Frame) {
	frame = frame.Clone()
	d.spawn(func(ctx context.Context) {
		d.sendSnapshot(ctx, eventID, frame)
	})
}

// DispatchEvidence takes ownership of ev and delivers it on its own goroutine.
func (d *Dispatcher) DispatchEvidence(ev types.Evidence) {
	d.spawn(func(ctx context.Context) {
		d.DeliverEvidence(ctx, ev)
	})
}

// spawn runs fn detached from any caller context so that deliveries in
// flight at shutdown can still finish their retries.
func (d *Dispatcher) spawn(fn func(ctx context.Context)) {
	d.wg.Add(1)
	d.inFlight.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)
		fn(context.Background())
	}()
}

// InFlight returns the number of deliveries still running.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Wait blocks until every dispatched delivery has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d deliveries still in flight: %w", d.InFlight(), ctx.Err())
	}
}

// SendSnapshot encodes frame in memory and makes exactly one delivery
// attempt. The result is informational only.
func (d *Dispatcher) SendSnapshot(ctx context.Context, frame types.Frame) bool {
	return d.sendSnapshot(ctx, "", frame)
}

func (d *Dispatcher) sendSnapshot(ctx context.Context, eventID string, frame types.Frame) bool {
	at := frame.Timestamp
	if at.IsZero() {
		at = d.now()
	}
	art := types.Artifact{
		Path:       fmt.Sprintf("snapshot_%s.jpg", at.Format(fileTimeLayout)),
		Kind:       types.ArtifactSnapshot,
		ProducedAt: at,
		EventID:    eventID,
	}

	data, err := d.encoder.EncodeJPEG(frame, d.opts.JPEGQuality)
	if err != nil {
		att := types.DeliveryAttempt{
			Artifact:      art,
			AttemptNumber: 1,
			MaxAttempts:   1,
			Outcome:       types.OutcomeFatalFailure,
			Err:           types.EncodingError("dispatch.snapshot", err),
		}
		d.report(att)
		d.finish([]types.Artifact{art}, 1, false)
		return false
	}

	fields := map[string]string{"content": SnapshotMessage(at)}
	files := map[string]webhook.Attachment{
		"file": {FileName: art.Name(), ContentType: "image/jpeg", Reader: bytes.NewReader(data)},
	}

	att := d.post(ctx, art, 1, 1, fields, files)
	ok := att.Outcome == types.OutcomeSuccess
	d.finish([]types.Artifact{art}, 1, ok)
	return ok
}

// SendArtifact delivers a file with up to maxRetries+1 attempts spaced by
// retryDelay. On success the file is deleted; on failure it stays on disk.
func (d *Dispatcher) SendArtifact(ctx context.Context, a types.Artifact, maxRetries int, retryDelay time.Duration) bool {
	return d.sendFiles(ctx, []types.Artifact{a}, maxRetries, retryDelay)
}

// DeliverEvidence sends a finished recording. An audio clip that finishes
// within the merge window travels in the same message; a later one is sent
// on its own once done.
func (d *Dispatcher) DeliverEvidence(ctx context.Context, ev types.Evidence) bool {
	var bundle []types.Artifact
	if ev.Video.Path != "" {
		ev.Video.EventID = ev.EventID
		bundle = append(bundle, ev.Video)
	}

	pending := ev.Audio
	if pending != nil && waitDone(ctx, pending, d.opts.AudioMergeWait) {
		if audio, err := pending.Result(); err == nil {
			audio.EventID = ev.EventID
			bundle = append(bundle, audio)
		}
		pending = nil
	}

	ok := true
	if len(bundle) > 0 {
		ok = d.sendFiles(ctx, bundle, d.opts.MaxRetries, d.opts.RetryDelay)
	}

	if pending != nil {
		select {
		case <-pending.Done():
		case <-ctx.Done():
			slog.Warn("audio clip abandoned before delivery", "event_id", ev.EventID, "error", ctx.Err())
			return false
		}
		audio, err := pending.Result()
		if err != nil {
			return ok
		}
		audio.EventID = ev.EventID
		ok = d.sendFiles(ctx, []types.Artifact{audio}, d.opts.MaxRetries, d.opts.RetryDelay) && ok
	}

	return ok
}

func (d *Dispatcher) sendFiles(ctx context.Context, bundle []types.Artifact, maxRetries int, retryDelay time.Duration) bool {
	primary := bundle[0]
	maxAttempts := maxRetries + 1

	for _, a := range bundle {
		if _, err := os.Stat(a.Path); err != nil {
			d.report(types.DeliveryAttempt{
				Artifact:      a,
				AttemptNumber: 1,
				MaxAttempts:   maxAttempts,
				Outcome:       types.OutcomeFatalFailure,
				Err:           types.ResourceError("dispatch.artifact", err),
			})
			d.finish(bundle, 1, false)
			return false
		}
	}

	fields := map[string]string{"content": ArtifactMessage(bundle)}
	attempt := 0

	op := func() error {
		attempt++
		files := make(map[string]webhook.Attachment, len(bundle))
		for i, a := range bundle {
			f, err := os.Open(a.Path)
			if err != nil {
				att := types.DeliveryAttempt{
					Artifact:      a,
					AttemptNumber: attempt,
					MaxAttempts:   maxAttempts,
					Outcome:       types.OutcomeFatalFailure,
					Err:           types.ResourceError("dispatch.artifact", err),
				}
				d.report(att)
				return backoff.Permanent(att.Err)
			}
			defer f.Close()
			files[partName(i)] = webhook.Attachment{
				FileName:    a.Name(),
				ContentType: contentType(a.Kind),
				Reader:      f,
			}
		}

		att := d.post(ctx, primary, attempt, maxAttempts, fields, files)
		if att.Outcome == types.OutcomeSuccess {
			return nil
		}
		return att.Err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryDelay), uint64(max(maxRetries, 0))),
		ctx,
	)

	if err := backoff.Retry(op, policy); err != nil {
		for _, a := range bundle {
			slog.Error("artifact undelivered, left on disk for manual recovery",
				"artifact", a.Path,
				"kind", a.Kind.String(),
				"attempts", attempt,
				"error", err,
			)
		}
		d.finish(bundle, attempt, false)
		return false
	}

	if d.opts.DeleteOnSuccess {
		for _, a := range bundle {
			if err := os.Remove(a.Path); err != nil {
				slog.Warn("delivered artifact could not be deleted", "artifact", a.Path, "error", err)
			}
		}
	}
	d.finish(bundle, attempt, true)
	return true
}

// post makes one attempt. Transport errors and unexpected statuses are
// both transient.
func (d *Dispatcher) post(ctx context.Context, a types.Artifact, n, maxAttempts int, fields map[string]string, files map[string]webhook.Attachment) types.DeliveryAttempt {
	att := types.DeliveryAttempt{
		Artifact:      a,
		AttemptNumber: n,
		MaxAttempts:   maxAttempts,
		Outcome:       types.OutcomeSuccess,
	}

	resp, err := d.transport.PostMultipart(ctx, fields, files)
	switch {
	case err != nil:
		att.Outcome = types.OutcomeTransientFailure
		if !errors.Is(err, types.ErrTransportFailure) {
			err = types.TransportError("dispatch.post", err)
		}
		att.Err = err
	case !resp.OK():
		att.Outcome = types.OutcomeTransientFailure
		att.Err = types.TransportError("dispatch.post",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(resp.Body, 200)))
	}

	d.report(att)
	return att
}

func (d *Dispatcher) report(att types.DeliveryAttempt) {
	args := []any{
		"artifact", att.Artifact.Name(),
		"kind", att.Artifact.Kind.String(),
		"attempt", att.AttemptNumber,
		"max_attempts", att.MaxAttempts,
		"outcome", att.Outcome.String(),
	}
	if att.Err != nil {
		slog.Warn("delivery attempt failed", append(args, "error", att.Err)...)
	} else {
		slog.Info("delivery attempt succeeded", args...)
	}
	d.observer.DeliveryAttempted(att)
}

func (d *Dispatcher) finish(bundle []types.Artifact, attempts int, ok bool) {
	for _, a := range bundle {
		d.observer.DeliveryFinished(types.Delivery{Artifact: a, Delivered: ok, Attempts: attempts})
	}
}

// waitDone reports whether p finished within wait.
func waitDone(ctx context.Context, p types.PendingArtifact, wait time.Duration) bool {
	select {
	case <-p.Done():
		return true
	default:
	}
	if wait <= 0 {
		return false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-p.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func partName(i int) string {
	if i == 0 {
		return "file"
	}
	return fmt.Sprintf("file%d", i+1)
}

func contentType(k types.ArtifactKind) string {
	switch k {
	case types.ArtifactSnapshot:
		return "image/jpeg"
	case types.ArtifactVideo:
		return "video/mp4"
	case types.ArtifactAudio:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type nopObserver struct{}

func (nopObserver) DeliveryAttempted(types.DeliveryAttempt) {}
func (nopObserver) DeliveryFinished(types.Delivery)         {}
