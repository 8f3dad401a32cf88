package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/p-dazzeo/realm/internal/archive"
	"github.com/p-dazzeo/realm/internal/artifacts"
	"github.com/p-dazzeo/realm/internal/config"
	githubclient "github.com/p-dazzeo/realm/internal/github"
	"github.com/p-dazzeo/realm/internal/logging"
	"github.com/p-dazzeo/realm/internal/metrics"
	"github.com/p-dazzeo/realm/internal/parser"
	"github.com/p-dazzeo/realm/internal/store"
	"github.com/p-dazzeo/realm/internal/upload"
)

type commandContext struct {
	configFlag    *string
	logLevelFlag  *string
	logFormatFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag, logFormatFlag *string) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		logLevelFlag:  logLevelFlag,
		logFormatFlag: logFormatFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if v := strings.TrimSpace(*c.logLevelFlag); v != "" {
			cfg.LogLevel = v
		}
		if v := strings.TrimSpace(*c.logFormatFlag); v != "" {
			cfg.LogFormat = v
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
}

// openStore picks Postgres when a database URL is configured and the local
// SQLite file otherwise. The schema is migrated before returning.
func (c *commandContext) openStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		logger.Info("store.opened", "driver", "postgres")
		st = pg
	} else {
		lite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info("store.opened", "driver", "sqlite", "path", lite.Path())
		st = lite
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return st, nil
}

// withService builds the full service graph, runs fn and closes the store.
func (c *commandContext) withService(ctx context.Context, fn func(*config.Config, *upload.Service, *slog.Logger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger()
	if err != nil {
		return err
	}
	st, err := c.openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	art, err := artifacts.NewStore(cfg.AdditionalFilesDir)
	if err != nil {
		return fmt.Errorf("initialize artifact store: %w", err)
	}

	var p parser.Client
	if cfg.ParserEnabled {
		p = parser.NewHTTPClient(cfg.ParserURL, cfg.ParserTimeout)
	}

	svc := upload.NewService(cfg, st,
		archive.NewExtractor(archive.PolicyFromConfig(cfg), logger),
		p, art,
		upload.WithLogger(logger),
		upload.WithMetrics(metrics.Default()),
		upload.WithGitHub(githubclient.NewClient(cfg.GitHubToken, cfg.MaxProjectSize)),
	)
	return fn(cfg, svc, logger)
}
