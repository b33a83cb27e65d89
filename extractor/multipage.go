package extractor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"auction-parser/adapters"
	"auction-parser/internal/types"
	"auction-parser/store"

	"github.com/google/uuid"
)

// MaxRangePages caps how many pages one explicit-range run may cover.
const MaxRangePages = 50

// ListingSource fetches and parses listing pages.
type ListingSource interface {
	GetPageContent(ctx context.Context, url string) (string, error)
	ParseListingPage(html string) ([]types.BlockResult, error)
}

// PageRange is the pages a multi-page run visits. A nil End means auto
// mode: walk forward until the page budget or the empty-page limit is hit.
type PageRange struct {
	Start int  `json:"start_page"`
	End   *int `json:"end_page,omitempty"`
}

// NormalizePageRange clamps start to 1 and end into [start, start+49].
func NormalizePageRange(start int, end *int) PageRange {
	if start < 1 {
		start = 1
	}
	r := PageRange{Start: start}
	if end != nil {
		e := *end
		if e < start {
			e = start
		}
		if e > start+MaxRangePages-1 {
			e = start + MaxRangePages - 1
		}
		r.End = &e
	}
	return r
}

// Auto reports whether the range is open-ended.
func (r PageRange) Auto() bool { return r.End == nil }

// Last returns the last page the run may visit.
func (r PageRange) Last(maxPages int) int {
	if r.End != nil {
		return *r.End
	}
	if maxPages < 1 {
		maxPages = 1
	}
	return r.Start + maxPages - 1
}

// Description is the human-readable target recorded on the run.
func (r PageRange) Description() string {
	if r.End != nil {
		return fmt.Sprintf("pages %d-%d", r.Start, *r.End)
	}
	return fmt.Sprintf("from page %d", r.Start)
}

// MultiPageOrchestrator walks listing pages strictly in order, persisting
// each page before fetching the next, with a jittered pause in between.
type MultiPageOrchestrator struct {
	source    ListingSource
	persister *Persister
	runs      store.RunStore
	config    *types.Config
	logger    types.Logger

	sleep  func(time.Duration)
	jitter func() float64
}

// NewMultiPageOrchestrator wires an orchestrator.
func NewMultiPageOrchestrator(config *types.Config, logger types.Logger, source ListingSource, st store.Store) *MultiPageOrchestrator {
	return &MultiPageOrchestrator{
		source:    source,
		persister: NewPersister(st, logger),
		runs:      st,
		config:    config,
		logger:    logger,
		sleep:     time.Sleep,
		jitter:    rand.Float64,
	}
}

// PageURL substitutes page into the listing URL template.
func PageURL(template string, page int) string {
	return strings.ReplaceAll(template, "{page}", strconv.Itoa(page))
}

// PageDelay returns the pause before the next page: the base delay shifted
// by up to ±jitter, never below the configured minimum.
func (o *MultiPageOrchestrator) PageDelay() time.Duration {
	offset := time.Duration((2*o.jitter() - 1) * float64(o.config.PageDelayJitter))
	d := o.config.PageDelay + offset
	if d < o.config.MinPageDelay {
		d = o.config.MinPageDelay
	}
	return d
}

type pageOutcome struct {
	fetched bool
	records int
	saved   SaveResult
}

func (p pageOutcome) empty() bool {
	return p.records == 0 && p.saved.Cars == 0 && p.saved.Images == 0
}

// Run drives the run identified by runID over pages and records its terminal
// state. It returns a *RunFailure when the run ended in error.
func (o *MultiPageOrchestrator) Run(ctx context.Context, runID uuid.UUID, pages PageRange, stop StopFunc) (sum Summary, err error) {
	sum = Summary{RunID: runID, Description: pages.Description(), Status: types.RunRunning}
	started := time.Now()
	stopped := false

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		sum.Duration = time.Since(started)
		sum.Status, err = finishRun(ctx, o.runs, o.logger, runID, sum, stopped, err)
	}()

	last := pages.Last(o.config.MaxPages)
	o.logger.Infof("Run %s: parsing %s (up to page %d)", runID, sum.Description, last)

	emptyStreak := 0
	for page := pages.Start; page <= last; page++ {
		if stop() {
			stopped = true
			o.logger.Infof("Run %s: stop requested before page %d", runID, page)
			break
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		out, err := o.processPage(ctx, page)
		if err != nil {
			return sum, err
		}
		sum.LastPage = page
		if out.fetched {
			sum.PagesFetched++
		}
		if out.records > 0 {
			sum.PagesSucceeded++
		}
		sum.Cars += out.saved.Cars
		sum.Images += out.saved.Images
		sum.Skipped += out.saved.Skipped

		if err := o.runs.UpdateProgress(ctx, runID, sum.Cars, sum.Images); err != nil {
			return sum, fmt.Errorf("update progress: %w", err)
		}
		o.logger.Infof("Page %d: %d records, %d new cars, %d new images (total %d cars, %d images)",
			page, out.records, out.saved.Cars, out.saved.Images, sum.Cars, sum.Images)

		if pages.Auto() {
			if out.empty() {
				emptyStreak++
				if emptyStreak >= o.config.EmptyPageLimit {
					o.logger.Infof("Run %s: %d consecutive empty pages, stopping after page %d", runID, emptyStreak, page)
					break
				}
			} else {
				emptyStreak = 0
			}
		}

		if page < last && !stop() {
			if d := o.PageDelay(); d > 0 {
				o.logger.Debugf("Waiting %v before page %d", d, page+1)
				o.sleep(d)
			}
		}
	}

	o.logger.Infof("Run %s: %d pages fetched, %d with listings, %d cars and %d images created",
		runID, sum.PagesFetched, sum.PagesSucceeded, sum.Cars, sum.Images)
	return sum, nil
}

// processPage fetches, parses and persists one page. Fetch and parse
// failures make the page empty; only store failures are returned.
func (o *MultiPageOrchestrator) processPage(ctx context.Context, page int) (pageOutcome, error) {
	var out pageOutcome
	url := PageURL(o.config.ListingURLTemplate, page)
	o.logger.Debugf("Fetching page %d: %s", page, url)

	html, err := o.source.GetPageContent(ctx, url)
	if err != nil {
		o.logger.Warnf("Page %d unavailable: %v", page, err)
		return out, nil
	}
	out.fetched = true

	results, err := o.source.ParseListingPage(html)
	if err != nil {
		o.logger.Warnf("Page %d could not be parsed: %v", page, err)
		return out, nil
	}
	records := adapters.Records(results)
	out.records = len(records)
	if out.records == 0 {
		return out, nil
	}

	out.saved, err = o.persister.Save(ctx, records)
	if err != nil {
		return out, fmt.Errorf("page %d: %w", page, err)
	}
	return out, nil
}

// finishRun records the terminal state of a run: error when cause is set,
// stopped when a stop was observed, completed otherwise.
func finishRun(ctx context.Context, runs store.RunStore, logger types.Logger, runID uuid.UUID, sum Summary, stopped bool, cause error) (types.RunState, error) {
	ctx = context.WithoutCancel(ctx)

	switch {
	case cause != nil:
		failure := &RunFailure{RunID: runID, Err: cause}
		var rf *RunFailure
		if errors.As(cause, &rf) {
			failure = rf
		}
		logger.Errorf("Run %s failed: %v", runID, failure.Err)
		if err := runs.MarkError(ctx, runID, failure.Err.Error()); err != nil {
			logger.Errorf("Run %s: could not record error: %v", runID, err)
		}
		return types.RunError, failure

	case stopped:
		if err := runs.MarkStopped(ctx, runID); err != nil {
			return types.RunStopped, &RunFailure{RunID: runID, Err: fmt.Errorf("mark stopped: %w", err)}
		}
		logger.Infof("Run %s stopped by user", runID)
		return types.RunStopped, nil

	default:
		if err := runs.MarkCompleted(ctx, runID, sum.Cars, sum.Images); err != nil {
			return types.RunError, &RunFailure{RunID: runID, Err: fmt.Errorf("mark completed: %w", err)}
		}
		logger.Infof("Run %s completed: %d cars, %d images", runID, sum.Cars, sum.Images)
		return types.RunCompleted, nil
	}
}
