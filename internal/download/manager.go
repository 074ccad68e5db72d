package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ZebulonRouseFrantzich/portabin/internal/logging"
	"github.com/cenkalti/backoff/v5"
	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxTries bounds attempts per artifact, including the first.
	DefaultMaxTries = 5

	// checkpointBytes is how often resume state is persisted mid-transfer.
	checkpointBytes = 1 << 20
)

// Request describes one artifact to stage.
type Request struct {
	ID     string
	URL    string
	Size   int64
	Digest digest.Digest
	// Dest is the final staged path. Partial data lives beside it.
	Dest string
}

// Result is the outcome of one Request.
type Result struct {
	ID   string
	Path string
	// Resumed is true when any attempt continued a partial transfer.
	Resumed bool
	// Restarted is true when a resumed transfer failed verification and was
	// fetched again from scratch.
	Restarted bool
	Err       error
}

// ProgressFunc receives advisory progress for an artifact.
type ProgressFunc func(id string, done, total int64)

// RetryPolicy controls backoff between attempts.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries with exponential backoff from 500ms to 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        DefaultMaxTries,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Options configures a Manager.
type Options struct {
	// Concurrency bounds parallel transfers; zero uses the CPU count.
	Concurrency int
	Retry       RetryPolicy
	Logger      logging.Logger
}

// Manager stages artifacts.
type Manager struct {
	fetcher     Fetcher
	concurrency int
	retry       RetryPolicy
	logger      logging.Logger
}

// NewManager creates a Manager using fetcher for transfers.
func NewManager(fetcher Fetcher, opts Options) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	if opts.Retry.MaxTries == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Manager{
		fetcher:     fetcher,
		concurrency: opts.Concurrency,
		retry:       opts.Retry,
		logger:      logging.OrNoop(opts.Logger),
	}
}

// Concurrency returns the worker limit.
func (m *Manager) Concurrency() int {
	return m.concurrency
}

// FetchAll stages every request with at most Concurrency transfers in
// flight. Results are returned in request order. The first failure cancels
// the remaining transfers, which report Interrupted and keep their partial
// data for a later resume; the returned error is that first failure.
func (m *Manager) FetchAll(ctx context.Context, reqs []Request, progress ProgressFunc) ([]Result, error) {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for i, req := range reqs {
		g.Go(func() error {
			results[i] = m.Fetch(gctx, req, progress)
			return results[i].Err
		})
	}
	err := g.Wait()
	return results, err
}

// Fetch stages a single request.
func (m *Manager) Fetch(ctx context.Context, req Request, progress ProgressFunc) Result {
	res := Result{ID: req.ID, Path: req.Dest}
	if progress == nil {
		progress = func(string, int64, int64) {}
	}

	if err := req.Digest.Validate(); err != nil {
		res.Err = &FetchError{Kind: KindChecksumMismatch, ID: req.ID, URL: req.URL, Err: err}
		return res
	}
	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		res.Err = &FetchError{Kind: KindInterrupted, ID: req.ID, URL: req.URL, Err: err}
		return res
	}

	// A previous run may have finished staging this artifact.
	if verifyFile(req.Dest, req) == nil {
		progress(req.ID, req.Size, req.Size)
		return res
	}

	for {
		resumed, err := m.transfer(ctx, req, progress)
		res.Resumed = res.Resumed || resumed
		if err != nil {
			res.Err = err
			return res
		}

		err = verifyFile(PartPath(req.Dest), req)
		if err == nil {
			break
		}
		discardPartial(req.Dest)
		var fe *FetchError
		if resumed && !res.Restarted && errors.As(err, &fe) && fe.Kind == KindChecksumMismatch {
			m.logger.Warn("resumed download failed verification, restarting", "id", req.ID)
			res.Restarted = true
			continue
		}
		res.Err = classify(ctx, req, err)
		return res
	}

	if err := os.Rename(PartPath(req.Dest), req.Dest); err != nil {
		res.Err = &FetchError{Kind: KindInterrupted, ID: req.ID, URL: req.URL, Err: fmt.Errorf("finalize staged file: %w", err)}
		return res
	}
	os.Remove(SidecarPath(req.Dest))
	return res
}

// transfer moves bytes into the partial file until it holds req.Size bytes,
// retrying transient failures. It reports whether any attempt resumed.
func (m *Manager) transfer(ctx context.Context, req Request, progress ProgressFunc) (bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retry.InitialInterval
	b.MaxInterval = m.retry.MaxInterval

	resumed := false
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		offset := ResumeOffset(loadResume(req.Dest), fileSize(PartPath(req.Dest)), req)
		if offset > 0 {
			resumed = true
			m.logger.Debug("resuming download", "id", req.ID, "offset", offset, "attempt", attempt)
		}
		err := m.attempt(ctx, req, offset, progress)
		if err == nil {
			return struct{}{}, nil
		}
		if !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		m.logger.Debug("download attempt failed", "id", req.ID, "attempt", attempt, "error", err)
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.retry.MaxTries),
	)
	if err == nil {
		return resumed, nil
	}
	return resumed, classify(ctx, req, err)
}

// attempt performs one ranged transfer starting at offset.
func (m *Manager) attempt(ctx context.Context, req Request, offset int64, progress ProgressFunc) error {
	stream, err := m.fetcher.Fetch(ctx, req.URL, ByteRange{Start: offset})
	if errors.Is(err, ErrRangeNotSatisfiable) {
		// The partial data is unusable; the next attempt starts over.
		discardPartial(req.Dest)
		return err
	}
	if err != nil {
		return err
	}
	defer stream.Body.Close()

	if stream.Total >= 0 && stream.Total != req.Size {
		return &FetchError{
			Kind:     KindSizeMismatch,
			ID:       req.ID,
			URL:      req.URL,
			Expected: fmt.Sprint(req.Size),
			Actual:   fmt.Sprint(stream.Total),
		}
	}
	if stream.Offset > offset {
		return fmt.Errorf("server resumed at %d, beyond requested %d", stream.Offset, offset)
	}

	f, err := os.OpenFile(PartPath(req.Dest), os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open partial file: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(stream.Offset); err != nil {
		return fmt.Errorf("truncate partial file: %w", err)
	}
	if _, err := f.Seek(stream.Offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek partial file: %w", err)
	}

	state := &ResumeState{
		BytesWritten: stream.Offset,
		ExpectedSize: req.Size,
		URL:          req.URL,
		Digest:       req.Digest,
	}
	if err := saveResume(req.Dest, state); err != nil {
		return err
	}

	buf := make([]byte, 32*1024)
	var sinceCheckpoint int64
	for {
		n, rerr := stream.Body.Read(buf)
		if n > 0 {
			if state.BytesWritten+int64(n) > req.Size {
				return &FetchError{
					Kind:     KindSizeMismatch,
					ID:       req.ID,
					URL:      req.URL,
					Expected: fmt.Sprint(req.Size),
					Actual:   fmt.Sprintf("more than %d", req.Size),
				}
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("write partial file: %w", err)
			}
			state.BytesWritten += int64(n)
			sinceCheckpoint += int64(n)
			progress(req.ID, state.BytesWritten, req.Size)
			if sinceCheckpoint >= checkpointBytes {
				sinceCheckpoint = 0
				if err := checkpoint(f, req.Dest, state); err != nil {
					return err
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			checkpoint(f, req.Dest, state)
			return fmt.Errorf("read body: %w", rerr)
		}
	}

	if err := checkpoint(f, req.Dest, state); err != nil {
		return err
	}
	if state.BytesWritten < req.Size {
		return fmt.Errorf("short read: %w (%d of %d bytes)", io.ErrUnexpectedEOF, state.BytesWritten, req.Size)
	}
	return nil
}

// checkpoint flushes data before recording how much of it exists.
func checkpoint(f *os.File, dest string, state *ResumeState) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync partial file: %w", err)
	}
	return saveResume(dest, state)
}

// verifyFile checks size and digest of a complete file.
func verifyFile(path string, req Request) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() != req.Size {
		return &FetchError{
			Kind:     KindSizeMismatch,
			ID:       req.ID,
			URL:      req.URL,
			Expected: fmt.Sprint(req.Size),
			Actual:   fmt.Sprint(info.Size()),
		}
	}

	digester := req.Digest.Algorithm().Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	if actual := digester.Digest(); actual != req.Digest {
		return &FetchError{
			Kind:     KindChecksumMismatch,
			ID:       req.ID,
			URL:      req.URL,
			Expected: req.Digest.String(),
			Actual:   actual.String(),
		}
	}
	return nil
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// classify converts the final transfer error into a FetchError.
func classify(ctx context.Context, req Request, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if ctx.Err() != nil {
		return &FetchError{Kind: KindInterrupted, ID: req.ID, URL: req.URL, Err: ctx.Err()}
	}
	return &FetchError{Kind: KindUnreachable, ID: req.ID, URL: req.URL, Err: err}
}
