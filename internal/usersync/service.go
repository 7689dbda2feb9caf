package usersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/userdir/internal/directory"
	"github.com/MarcoPoloResearchLab/userdir/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxConcurrency = 5
	defaultMaxPages       = 100
)

var (
	errMissingDirectory = errors.New("usersync: directory client is required")
	errMissingFallback  = errors.New("usersync: fallback provider is required")
	errMissingImporter  = errors.New("usersync: importer is required")
	errTooManyPages     = errors.New("usersync: remote reported more pages than allowed")
	errUnknownPolicy    = errors.New("usersync: unknown partial failure policy")
)

// PageFetcher reads one page of the remote directory.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) (directory.Page, error)
}

// FallbackProvider serves the substitute dataset.
type FallbackProvider interface {
	Load() []directory.Record
}

// BatchImporter folds candidate records into a tally.
type BatchImporter interface {
	ImportBatch(ctx context.Context, records []directory.Record) Tally
}

// IDProvider issues identifiers for sync runs.
type IDProvider interface {
	NewID() (string, error)
}

// PartialFailurePolicy decides what happens when page 1 succeeded but a later page failed.
type PartialFailurePolicy string

const (
	// PolicyFallback discards every fetched page and imports the fallback dataset.
	PolicyFallback PartialFailurePolicy = "fallback"
	// PolicyImportPartial imports the fetched pages and counts the records of
	// failed pages as errors.
	PolicyImportPartial PartialFailurePolicy = "import-partial"
)

// ParsePartialFailurePolicy maps a configuration value onto a policy.
func ParsePartialFailurePolicy(value string) (PartialFailurePolicy, error) {
	switch PartialFailurePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyFallback:
		return PolicyFallback, nil
	case PolicyImportPartial:
		return PolicyImportPartial, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownPolicy, value)
	}
}

// ServiceConfig describes the dependencies of the sync orchestrator.
type ServiceConfig struct {
	Directory      PageFetcher
	Fallback       FallbackProvider
	Importer       BatchImporter
	Policy         PartialFailurePolicy
	MaxConcurrency int
	MaxPages       int
	Metrics        *metrics.Sync
	IDProvider     IDProvider
	Logger         *zap.Logger
	Clock          func() time.Time
}

// Service runs the external-user synchronization job.
type Service struct {
	directory      PageFetcher
	fallback       FallbackProvider
	importer       BatchImporter
	policy         PartialFailurePolicy
	maxConcurrency int
	maxPages       int
	metrics        *metrics.Sync
	idProvider     IDProvider
	logger         *zap.Logger
	clock          func() time.Time
}

// NewService validates dependencies and constructs the orchestrator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Directory == nil {
		return nil, newServiceError(opServiceNew, "missing_directory", errMissingDirectory)
	}
	if cfg.Fallback == nil {
		return nil, newServiceError(opServiceNew, "missing_fallback", errMissingFallback)
	}
	if cfg.Importer == nil {
		return nil, newServiceError(opServiceNew, "missing_importer", errMissingImporter)
	}

	policy, err := ParsePartialFailurePolicy(string(cfg.Policy))
	if err != nil {
		return nil, newServiceError(opServiceNew, "invalid_policy", err)
	}

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		directory:      cfg.Directory,
		fallback:       cfg.Fallback,
		importer:       cfg.Importer,
		policy:         policy,
		maxConcurrency: maxConcurrency,
		maxPages:       maxPages,
		metrics:        cfg.Metrics,
		idProvider:     idProvider,
		logger:         logger,
		clock:          clock,
	}, nil
}

// RunOptions carries caller-supplied parameters for a sync run.
type RunOptions struct {
	// StartPage is accepted for compatibility; discovery always starts at page 1.
	StartPage int
}

// Outcome summarizes one sync run. Imported+Skipped+Errors always equals Total.
type Outcome struct {
	Imported     int    `json:"imported"`
	Skipped      int    `json:"skipped"`
	Errors       int    `json:"errors"`
	Total        int    `json:"total"`
	UsedFallback bool   `json:"usedFallback"`
	RunID        string `json:"-"`
}

// Run fetches the remote directory, falls back to the static dataset when the
// fetch phase fails, and imports the candidates. It only returns an error when
// the fallback path itself cannot produce a dataset.
func (s *Service) Run(ctx context.Context, opts RunOptions) (Outcome, error) {
	startedAt := s.clock()
	runID := s.newRunID()
	logger := s.logger.With(zap.String("run_id", runID))

	if opts.StartPage > 1 {
		logger.Debug("start page ignored, discovery begins at page 1", zap.Int("start_page", opts.StartPage))
	}

	usedFallback := false
	candidates, unfetched, err := s.fetchAll(ctx, logger)
	if err != nil {
		logger.Warn("remote directory unavailable, importing fallback dataset", zap.Error(err))
		candidates, err = s.loadFallback()
		if err != nil {
			s.logError(logger, opRun, "fallback_unavailable", err)
			return Outcome{}, newServiceError(opRun, "fallback_unavailable", err)
		}
		unfetched = 0
		usedFallback = true
	} else if unfetched > 0 {
		logger.Warn("remote directory pages failed, importing fetched pages only",
			zap.Int("unfetched_records", unfetched))
	}

	// The import phase runs to completion even if the caller goes away.
	tally := s.importer.ImportBatch(context.WithoutCancel(ctx), candidates)

	outcome := Outcome{
		Imported:     tally.Imported,
		Skipped:      tally.Skipped,
		Errors:       tally.Errors + unfetched,
		Total:        len(candidates) + unfetched,
		UsedFallback: usedFallback,
		RunID:        runID,
	}

	elapsed := s.clock().Sub(startedAt)
	s.metrics.ObserveRun(outcome.UsedFallback, outcome.Imported, outcome.Skipped, outcome.Errors, elapsed)
	logger.Info("external user sync completed",
		zap.Int("imported", outcome.Imported),
		zap.Int("skipped", outcome.Skipped),
		zap.Int("errors", outcome.Errors),
		zap.Int("total", outcome.Total),
		zap.Bool("used_fallback", outcome.UsedFallback),
		zap.Duration("elapsed", elapsed))

	return outcome, nil
}

// fetchAll discovers the page count from page 1 and fetches the remaining
// pages concurrently. Records are assembled by page index, so the result
// follows page order regardless of completion order. The returned count is
// the number of records on pages that failed under PolicyImportPartial.
func (s *Service) fetchAll(ctx context.Context, logger *zap.Logger) ([]directory.Record, int, error) {
	first, err := s.fetchPage(ctx, 1)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page 1: %w", err)
	}

	totalPages := first.TotalPages
	if totalPages > s.maxPages {
		return nil, 0, fmt.Errorf("%w: %d > %d", errTooManyPages, totalPages, s.maxPages)
	}
	if totalPages <= 1 {
		return first.Records, 0, nil
	}

	pages := make([][]directory.Record, totalPages)
	pageErrors := make([]error, totalPages)
	pages[0] = first.Records

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.maxConcurrency)
	for page := 2; page <= totalPages; page++ {
		page := page
		group.Go(func() error {
			fetched, err := s.fetchPage(groupCtx, page)
			if err != nil {
				pageErrors[page-1] = err
				if s.policy == PolicyFallback {
					return fmt.Errorf("fetch page %d: %w", page, err)
				}
				logger.Warn("remote directory page failed", zap.Int("page", page), zap.Error(err))
				return nil
			}
			pages[page-1] = fetched.Records
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, 0, err
	}

	candidates := make([]directory.Record, 0, len(first.Records)*totalPages)
	unfetched := 0
	for index, records := range pages {
		if pageErrors[index] != nil {
			unfetched += expectedPageSize(first, index+1)
			continue
		}
		candidates = append(candidates, records...)
	}
	return candidates, unfetched, nil
}

func (s *Service) fetchPage(ctx context.Context, page int) (directory.Page, error) {
	fetched, err := s.directory.FetchPage(ctx, page)
	s.metrics.ObservePageFetch(err)
	return fetched, err
}

func (s *Service) loadFallback() ([]directory.Record, error) {
	records := s.fallback.Load()
	if len(records) == 0 {
		return nil, ErrFallbackUnavailable
	}
	return records, nil
}

func (s *Service) newRunID() string {
	runID, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Warn("sync run id generation failed", zap.Error(err))
		return ""
	}
	return runID
}

func (s *Service) logError(logger *zap.Logger, operation, reason string, err error) {
	logger.Error("usersync service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
}

// expectedPageSize estimates how many records a page would have held, using
// the paging metadata reported with page 1. The last page is clipped to the
// reported total.
func expectedPageSize(first directory.Page, page int) int {
	perPage := first.PerPage
	if perPage <= 0 {
		perPage = len(first.Records)
	}
	if first.Total <= 0 {
		return perPage
	}
	remaining := first.Total - (page-1)*perPage
	if remaining < 0 {
		return 0
	}
	if remaining > perPage {
		return perPage
	}
	return remaining
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
