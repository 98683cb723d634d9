// Package replay feeds archived gateway webhook deliveries back through the
// reconciler. Archives are gzip-compressed NDJSON, one raw delivery body per
// line, as exported from the gateway's event log.
//
// Replay runs in two passes. The first pass streams every archive
// concurrently into a per-archive bloom filter and notes ids seen twice in the
// same archive. The second pass applies events in archive order; an event id
// is checked exactly only when a filter says it may be a duplicate, so memory
// stays bounded by the duplicate candidates rather than the archive size.
package replay

import (
	"bufio"
	"context"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/moto-storefront/internal/webhook"
)

const maxLineBytes = 1 << 20

// Options tune duplicate detection.
type Options struct {
	// Capacity is the expected number of events per archive.
	Capacity uint
	// FalsePositiveRate is the target bloom filter error rate.
	FalsePositiveRate float64
}

func (o *Options) setDefaults() {
	if o.Capacity == 0 {
		o.Capacity = 1_000_000
	}
	if o.FalsePositiveRate <= 0 || o.FalsePositiveRate >= 1 {
		o.FalsePositiveRate = 0.001
	}
}

// Stats summarizes a replay run.
type Stats struct {
	Events     int
	Applied    int
	Unchanged  int
	Unmatched  int
	Ignored    int
	Duplicates int
	Malformed  int
}

// Replayer applies archived events through a webhook dispatcher.
type Replayer struct {
	dispatcher *webhook.Dispatcher
	opts       Options
}

// New creates a Replayer dispatching to d.
func New(d *webhook.Dispatcher, opts Options) *Replayer {
	opts.setDefaults()
	return &Replayer{dispatcher: d, opts: opts}
}

type archiveIndex struct {
	filter *bloom.BloomFilter
	// repeated holds ids the filter reported as already present while the
	// archive was being indexed.
	repeated map[string]struct{}
}

// Run replays the archives in order. A storage failure aborts the run;
// malformed lines are counted and skipped.
func (r *Replayer) Run(ctx context.Context, files []string) (Stats, error) {
	lg := zctx.From(ctx)

	lg.Info("Pass 1: indexing event ids", zap.Int("archives", len(files)))
	index, err := r.indexArchives(ctx, files)
	if err != nil {
		return Stats{}, errors.Wrap(err, "index archives")
	}

	lg.Info("Pass 2: applying events")
	var (
		stats   Stats
		applied = make(map[string]struct{})
	)
	for i, path := range files {
		if err := streamArchive(ctx, path, func(line []byte) error {
			return r.apply(ctx, line, i, index, applied, &stats)
		}); err != nil {
			return stats, errors.Wrapf(err, "replay %s", path)
		}
		lg.Info("Archive replayed", zap.String("path", path), zap.Int("events", stats.Events))
	}
	return stats, nil
}

func (r *Replayer) apply(
	ctx context.Context,
	line []byte,
	archive int,
	index []archiveIndex,
	applied map[string]struct{},
	stats *Stats,
) error {
	stats.Events++

	env, err := webhook.DecodeEnvelope(line)
	if err != nil {
		stats.Malformed++
		zctx.From(ctx).Warn("Skipping malformed delivery", zap.Error(err))
		return nil
	}

	if id := env.EventID; id != "" && maybeDuplicate(id, archive, index) {
		if _, ok := applied[id]; ok {
			stats.Duplicates++
			return nil
		}
		applied[id] = struct{}{}
	}

	res, err := r.dispatcher.Dispatch(ctx, env)
	switch {
	case webhook.IsPayloadError(err):
		stats.Malformed++
		zctx.From(ctx).Warn("Skipping malformed event",
			zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	case err != nil:
		return errors.Wrapf(err, "apply event %s", env.EventID)
	}

	switch {
	case res.State == webhook.StateApplied:
		stats.Applied++
	case res.State == webhook.StateUnmatched:
		stats.Unmatched++
	case res.Outcome == "":
		stats.Ignored++
	default:
		stats.Unchanged++
	}
	return nil
}

// maybeDuplicate reports whether id might occur more than once across all
// archives. False positives only cost an exact map entry.
func maybeDuplicate(id string, archive int, index []archiveIndex) bool {
	if _, ok := index[archive].repeated[id]; ok {
		return true
	}
	for j, idx := range index {
		if j != archive && idx.filter.TestString(id) {
			return true
		}
	}
	return false
}

func (r *Replayer) indexArchives(ctx context.Context, files []string) ([]archiveIndex, error) {
	index := make([]archiveIndex, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			idx := archiveIndex{
				filter:   bloom.NewWithEstimates(r.opts.Capacity, r.opts.FalsePositiveRate),
				repeated: make(map[string]struct{}),
			}
			var count int
			if err := streamArchive(ctx, path, func(line []byte) error {
				id := eventID(line)
				if id == "" {
					return nil
				}
				count++
				if idx.filter.TestAndAddString(id) {
					idx.repeated[id] = struct{}{}
				}
				return nil
			}); err != nil {
				return errors.Wrapf(err, "index %s", path)
			}

			zctx.From(ctx).Info("Archive indexed",
				zap.String("path", path),
				zap.Int("event_ids", count),
				zap.Int("repeat_candidates", len(idx.repeated)),
			)
			index[i] = idx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return index, nil
}

// eventID extracts the envelope event id, or "" when the line does not parse.
func eventID(line []byte) string {
	env, err := webhook.DecodeEnvelope(line)
	if err != nil {
		return ""
	}
	return env.EventID
}

// streamArchive opens a gzip-compressed NDJSON file and calls fn for each
// non-empty line. The slice passed to fn is only valid during the call.
func streamArchive(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
