package extractor

import (
	"context"
	"fmt"
	"time"

	"auction-parser/adapters"
	"auction-parser/internal/types"
	"auction-parser/store"

	"github.com/google/uuid"
)

// SinglePageRunner parses one listing page, writes the extracted records to a
// JSON audit file and persists them.
type SinglePageRunner struct {
	source    ListingSource
	persister *Persister
	runs      store.RunStore
	config    *types.Config
	logger    types.Logger
	now       func() time.Time
}

// NewSinglePageRunner wires a single-page runner.
func NewSinglePageRunner(config *types.Config, logger types.Logger, source ListingSource, st store.Store) *SinglePageRunner {
	return &SinglePageRunner{
		source:    source,
		persister: NewPersister(st, logger),
		runs:      st,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Run processes url for the run identified by runID and records its terminal
// state. It returns a *RunFailure when the run ended in error.
func (r *SinglePageRunner) Run(ctx context.Context, runID uuid.UUID, url string, stop StopFunc) (sum Summary, err error) {
	sum = Summary{RunID: runID, Description: url, Status: types.RunRunning}
	started := r.now()
	stopped := false

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		sum.Duration = time.Since(started)
		sum.Status, err = finishRun(ctx, r.runs, r.logger, runID, sum, stopped, err)
	}()

	r.logger.Infof("Run %s: parsing %s", runID, url)
	html, err := r.source.GetPageContent(ctx, url)
	if err != nil {
		r.logger.Warnf("Run %s: fetch failed: %v", runID, err)
		return sum, ErrNoHTML
	}
	sum.PagesFetched = 1

	results, err := r.source.ParseListingPage(html)
	if err != nil {
		return sum, fmt.Errorf("parse page: %w", err)
	}
	records := adapters.Records(results)
	if len(records) == 0 {
		return sum, ErrNoCars
	}
	sum.PagesSucceeded = 1
	r.logger.Infof("Run %s: extracted %d records from %d blocks", runID, len(records), len(results))

	path, werr := WriteResults(r.config.ResultsDir, runID, r.now(), records)
	if werr != nil {
		r.logger.Warnf("Run %s: %v", runID, werr)
	} else {
		sum.ResultsFile = path
		r.logger.Infof("Results saved to %s", path)
	}

	if stop() {
		stopped = true
		return sum, nil
	}

	saved, err := r.persister.Save(ctx, records)
	sum.Cars, sum.Images, sum.Skipped = saved.Cars, saved.Images, saved.Skipped
	if err != nil {
		return sum, err
	}
	return sum, nil
}
