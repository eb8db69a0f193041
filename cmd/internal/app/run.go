package app

import "context"

// Run is the entrypoint of `blogdesk run`. ctx carries the signal cancellation.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(ctx context.Context, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// Open loads config and builds an App for one-shot commands.
// A non-empty logLevel overrides the configured level.
func Open(ctx context.Context, configPath, logLevel string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return New(ctx, cfg, NewLogger(cfg.LogLevel, cfg.LogFormat))
}
