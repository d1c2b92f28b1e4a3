package main

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/validation"
)

const (
	filterFPR     = 0.001
	progressEvery = 5_000_000
	maxFiles      = 64
)

// collectCodes returns, in lexical order, the valid codes that occur in at
// least quorum of files. expected sizes the per-file filters.
//
// The first pass builds one bloom filter per file. The second pass re-reads
// every file and keeps a code as a candidate when enough other filters may
// hold it. Candidates are then confirmed by counting the files they were
// actually read from, which removes bloom false positives.
func collectCodes(ctx context.Context, lg *zap.Logger, files []string, quorum int, expected uint) ([]string, error) {
	if len(files) > maxFiles {
		return nil, errors.Errorf("at most %d files are supported", maxFiles)
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, errors.Wrapf(err, "check file %s", f)
		}
	}

	var filters []*bloom.BloomFilter
	if quorum > 1 {
		lg.Info("Pass 1: building filters", zap.Int("files", len(files)))
		var err error
		if filters, err = buildFilters(ctx, lg, files, expected); err != nil {
			return nil, err
		}
	}

	lg.Info("Pass 2: selecting candidates")
	masks := make([]map[string]uint64, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			m, err := scanCandidates(gctx, lg, i, path, filters, quorum)
			masks[i] = m
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	for _, m := range masks {
		for code, bit := range m {
			merged[code] |= bit
		}
	}
	var out []string
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= quorum {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out, nil
}

func buildFilters(ctx context.Context, lg *zap.Logger, files []string, expected uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(expected, filterFPR)
			var count uint64
			if err := streamCodes(ctx, path, func(code string) {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.Int("file", i+1), zap.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}
			lg.Info("Pass 1 complete", zap.Int("file", i+1), zap.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func scanCandidates(
	ctx context.Context,
	lg *zap.Logger,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	quorum int,
) (map[string]uint64, error) {
	candidates := make(map[string]uint64)
	bit := uint64(1) << uint(idx)
	var count uint64

	err := streamCodes(ctx, path, func(code string) {
		count++
		if count%progressEvery == 0 {
			lg.Info("Pass 2 progress", zap.Int("file", idx+1), zap.Uint64("codes", count))
		}

		seen := 1
		for j, f := range filters {
			if seen >= quorum {
				break
			}
			if j != idx && f.TestString(code) {
				seen++
			}
		}
		if seen >= quorum {
			candidates[code] |= bit
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan file %d", idx+1)
	}
	lg.Info("Pass 2 complete",
		zap.Int("file", idx+1),
		zap.Uint64("codes", count),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// streamCodes calls fn with every valid, normalized code in a gzip file.
// Lines that are not valid promotion codes are skipped.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := promotion.Normalize(scanner.Text())
		if !validation.PromoCode(code).Valid {
			continue
		}
		fn(code)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
