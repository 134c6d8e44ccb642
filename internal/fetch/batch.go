package fetch

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"flaccapture/internal/logging"
	"flaccapture/internal/services"
)

// FetchAll downloads urls and returns one Result per attempted URL in
// playlist order. With parallelism <= 1 URLs are fetched strictly one after
// another and the loop stops at the first cancellation. Larger values fetch
// concurrently, which suits pure downloads but not playback-style capture.
//
// When ctx is cancelled, before or during the queue, the returned error wraps
// services.ErrCancelled. Downloads that completed before the cancellation
// keep their files; the caller either assembles them or calls Cleanup.
// Per-URL failures never produce an error; they are recorded in the results.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, parallelism int) ([]Result, error) {
	var results []Result
	if parallelism <= 1 {
		results = f.fetchSequential(ctx, urls)
	} else {
		results = f.fetchParallel(ctx, urls, parallelism)
	}

	if err := ctx.Err(); err != nil {
		return results, services.Wrap(services.ErrCancelled, stageName, "fetch all", "download queue aborted", err)
	}
	for _, r := range results {
		if r.Cancelled() {
			return results, services.Wrap(services.ErrCancelled, stageName, "fetch all", "download queue aborted", r.Err)
		}
	}
	return results, nil
}

func (f *Fetcher) fetchSequential(ctx context.Context, urls []string) []Result {
	results := make([]Result, 0, len(urls))
	for i, url := range urls {
		if ctx.Err() != nil {
			break
		}
		streamCtx := services.WithStream(ctx, i+1, len(urls))
		logging.WithContext(streamCtx, f.logger).Info("fetching stream", logging.String("url", url))
		r := f.Fetch(streamCtx, url)
		r.Index = i
		results = append(results, r)
		if r.Cancelled() {
			break
		}
	}
	return results
}

func (f *Fetcher) fetchParallel(ctx context.Context, urls []string, parallelism int) []Result {
	results := make([]Result, len(urls))
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, url := range urls {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = Result{Index: i, URL: url, Err: services.Wrap(services.ErrCancelled, stageName, "request", url, ctx.Err())}
				return nil
			}
			r := f.Fetch(services.WithStream(ctx, i+1, len(urls)), url)
			r.Index = i
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Succeeded returns the successful results, preserving order.
func Succeeded(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Cleanup removes the temporary files of a result set.
func Cleanup(results []Result) {
	for _, r := range results {
		if r.Path == "" {
			continue
		}
		_ = os.Remove(r.Path)
	}
}
