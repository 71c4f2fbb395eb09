package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/mvx/internal/server"
	"github.com/desertthunder/mvx/internal/tasks"
)

// Serve runs the admin API until the process is interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}
	cfg := r.config.Server
	if host := cmd.String("host"); host != "" {
		cfg.Host = host
	}
	if port := cmd.Int("port"); port > 0 {
		cfg.Port = int(port)
	}

	s, err := r.build(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if schedule := r.config.Transfer.SweepSchedule; schedule != "" {
		sweeper := tasks.NewSweeper(s.engine.Options().TempDir, r.config.Transfer.SweepMaxAge(), r.logger)
		if err := sweeper.Start(schedule); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	if cfg.IsProduction() {
		r.logger.Warn("running in production; every /admin endpoint will answer 403")
	}

	admin := server.NewAdminHandler(s.orch, s.cms, s.store, s.reconciler, s.transfers, r.logger)
	return server.New(cfg, admin, r.logger).ListenAndServe(ctx)
}
