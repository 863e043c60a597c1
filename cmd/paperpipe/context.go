package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"paperpipe/internal/config"
	"paperpipe/internal/logging"
	"paperpipe/internal/pipeline"
)

type commandContext struct {
	configFlag string

	// deps overrides pipeline collaborators; tests use it to stub preflight.
	deps pipeline.Dependencies

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.configFlag))
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

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

// newRunner builds a pipeline runner; extra dependencies override the
// context defaults.
func (c *commandContext) newRunner(logger *slog.Logger, extra pipeline.Dependencies) (*pipeline.Runner, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	deps := c.deps
	if extra.Metrics != nil {
		deps.Metrics = extra.Metrics
	}
	if extra.Progress != nil {
		deps.Progress = extra.Progress
	}
	return pipeline.NewWithDependencies(cfg, logger, deps)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
