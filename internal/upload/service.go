package upload

import (
	"errors"
	"log/slog"
	"time"

	"github.com/p-dazzeo/realm/internal/apperr"
	"github.com/p-dazzeo/realm/internal/archive"
	"github.com/p-dazzeo/realm/internal/artifacts"
	"github.com/p-dazzeo/realm/internal/cache"
	"github.com/p-dazzeo/realm/internal/config"
	githubclient "github.com/p-dazzeo/realm/internal/github"
	"github.com/p-dazzeo/realm/internal/metrics"
	"github.com/p-dazzeo/realm/internal/parser"
	"github.com/p-dazzeo/realm/internal/store"
)

// Service orchestrates ingest between the extractor, the parser service,
// the database and on-disk artifacts.
type Service struct {
	cfg       *config.Config
	store     *cache.Store
	extractor *archive.Extractor
	parser    parser.Client
	artifacts *artifacts.Store
	github    githubclient.Source
	metrics   *metrics.Collectors
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithGitHub enables IngestRepository.
func WithGitHub(src githubclient.Source) Option {
	return func(s *Service) {
		s.github = src
	}
}

// WithClock overrides the time source used for session expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service instance. st is wrapped in a read cache
// unless it already is one. parser may be nil when the integration is off.
func NewService(cfg *config.Config, st store.Store, extractor *archive.Extractor, p parser.Client, art *artifacts.Store, opts ...Option) *Service {
	cached, ok := st.(*cache.Store)
	if !ok {
		cached = cache.New(st, cfg.CacheTTL)
	}
	s := &Service{
		cfg:       cfg,
		store:     cached,
		extractor: extractor,
		parser:    p,
		artifacts: art,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the cached store for maintenance commands.
func (s *Service) Store() *cache.Store {
	return s.store
}

func (s *Service) parserEnabled() bool {
	return s.cfg.ParserEnabled && s.parser != nil
}

// storeErr turns repository errors into caller-facing errors.
func storeErr(op, resource string, id any, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(resource, id)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(op, err)
}
