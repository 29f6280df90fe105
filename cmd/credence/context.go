package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"credence/internal/checklist"
	"credence/internal/config"
	"credence/internal/extraction"
	"credence/internal/logging"
	"credence/internal/review"
	"credence/internal/session"
	"credence/internal/workflow"
)

// commandContext lazily builds the application components so commands only
// pay for what they touch.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logOnce sync.Once
	logger  *slog.Logger
	logErr  error

	storeOnce sync.Once
	store     *session.Store
	storeErr  error

	ledgerOnce sync.Once
	ledger     *review.Ledger
	ledgerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.logOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logErr = err
			return
		}
		c.logger, c.logErr = logging.NewFromConfig(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir)
	})
	return c.logger, c.logErr
}

func (c *commandContext) ensureStore() (*session.Store, error) {
	c.storeOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.storeErr = err
			return
		}
		logger, err := c.ensureLogger()
		if err != nil {
			c.storeErr = err
			return
		}
		c.store, c.storeErr = session.Open(cfg, logger)
	})
	return c.store, c.storeErr
}

func (c *commandContext) ensureLedger() (*review.Ledger, error) {
	c.ledgerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.ledgerErr = err
			return
		}
		c.ledger, c.ledgerErr = review.Open(cfg)
	})
	return c.ledger, c.ledgerErr
}

// ensureManager builds the full workflow stack: store, ledger, extraction
// client, and checklist.
func (c *commandContext) ensureManager() (*workflow.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	store, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	ledger, err := c.ensureLedger()
	if err != nil {
		return nil, err
	}
	cl, err := checklist.Load(cfg.Paths.ChecklistPath)
	if err != nil {
		return nil, fmt.Errorf("load checklist: %w", err)
	}
	client := extraction.NewClient(cfg.Extraction)
	return workflow.NewManager(cfg, store, ledger, client, cl, logger), nil
}
