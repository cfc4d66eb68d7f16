// Downloads every asset named by the manifest into the local cache.

package overlay

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maruel/selfiegram/internal/storage"
)

// DefaultWorkers is the number of concurrent downloads when Options.Workers
// is not set.
const DefaultWorkers = 8

// Options configures a Synchronizer.
type Options struct {
	// Workers bounds the number of concurrent downloads.
	Workers int
	// Log, when set, receives the Stats of every completed synchronization.
	Log *storage.JSONLTable[Stats]
}

// LogFileName is the name of the synchronization log in the cache directory.
const LogFileName = "sync.jsonl"

// OpenLog opens the synchronization log of cacheDir, keeping the last 100
// entries.
func OpenLog(cacheDir string) (*storage.JSONLTable[Stats], error) {
	return storage.NewJSONLTable[Stats](filepath.Join(cacheDir, LogFileName), 100)
}

// Stats summarizes one synchronization.
type Stats struct {
	Total    int           `json:"total"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	Finished time.Time     `json:"finished"`
}

// Synchronizer makes sure every asset of the current manifest is cached.
//
// Errors never escape Synchronize: a failed refresh falls back to the held
// manifest and a failed download is logged and counted.
type Synchronizer struct {
	client  *ManifestClient
	fetcher Fetcher
	sem     *semaphore.Weighted
	log     *storage.JSONLTable[Stats]
}

// NewSynchronizer returns a Synchronizer downloading through fetcher.
func NewSynchronizer(client *ManifestClient, fetcher Fetcher, opts Options) *Synchronizer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Synchronizer{
		client:  client,
		fetcher: fetcher,
		sem:     semaphore.NewWeighted(int64(opts.Workers)),
		log:     opts.Log,
	}
}

// Synchronize downloads every asset of the manifest and then calls onComplete
// exactly once, after every download it launched succeeded or failed.
//
// When refresh is true the manifest is refreshed first; downloads never start
// before the refresh resolves. Synchronize returns immediately.
//
// Launched downloads are not cancelled when ctx is; ctx only carries values.
func (s *Synchronizer) Synchronize(ctx context.Context, refresh bool, onComplete func()) {
	s.synchronize(context.WithoutCancel(ctx), refresh, func(Stats) {
		if onComplete != nil {
			onComplete()
		}
	})
}

// SynchronizeWait is like Synchronize but blocks until completion and reports
// how many downloads failed.
func (s *Synchronizer) SynchronizeWait(ctx context.Context, refresh bool) Stats {
	done := make(chan Stats, 1)
	s.synchronize(context.WithoutCancel(ctx), refresh, func(st Stats) { done <- st })
	return <-done
}

func (s *Synchronizer) synchronize(ctx context.Context, refresh bool, onComplete func(Stats)) {
	if refresh {
		go func() {
			if _, err := s.client.Refresh(ctx); err != nil {
				slog.WarnContext(ctx, "Failed to refresh overlay manifest, using cached copy", "err", err)
			}
			s.synchronize(ctx, false, onComplete)
		}()
		return
	}
	s.fanOut(ctx, onComplete)
}

type assetTask struct {
	name string
	src  string
	dst  string
	err  error
}

func (s *Synchronizer) fanOut(ctx context.Context, onComplete func(Stats)) {
	start := time.Now()
	names := s.client.Current().Assets()
	tasks := make([]assetTask, len(names))
	for i, name := range names {
		t := assetTask{name: name}
		if t.src, t.err = s.client.AssetURL(name); t.err == nil {
			t.dst, t.err = s.client.CachedPath(name)
		}
		tasks[i] = t
	}

	var failed atomic.Int64
	b := NewBarrier(len(tasks), func() {
		st := Stats{Total: len(tasks), Failed: int(failed.Load()), Duration: time.Since(start), Finished: time.Now().UTC()}
		slog.InfoContext(ctx, "Overlay assets synchronized", "total", st.Total, "failed", st.Failed, "duration", st.Duration)
		if s.log != nil {
			if err := s.log.Append(st); err != nil {
				slog.WarnContext(ctx, "Failed to record synchronization", "err", err)
			}
		}
		onComplete(st)
	})
	for i := range tasks {
		go func(t *assetTask) {
			defer b.Done()
			if err := s.download(ctx, t); err != nil {
				failed.Add(1)
				slog.WarnContext(ctx, "Failed to download overlay asset", "asset", t.name, "err", err)
			}
		}(&tasks[i])
	}
}

func (s *Synchronizer) download(ctx context.Context, t *assetTask) error {
	if t.err != nil {
		return t.err
	}
	// Background: the semaphore wait must not be cut short, every task runs to
	// its own completion.
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	data, err := s.fetcher.Fetch(ctx, t.src)
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(t.dst, data, 0o644)
}
