package main

import (
	"context"
	"fmt"

	"github.com/loykin/devloop/internal/pipeline"
	"github.com/loykin/devloop/internal/shutdown"
	"github.com/spf13/cobra"
)

func (a *app) devCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dev",
		Short: "Start the dev server, watch builds and a live-reloaded Electron app",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return a.runDev() },
	}
}

func (a *app) buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Run the production build steps in order",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return a.runBuild() },
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the devloop version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "devloop %s\n", version)
		},
	}
}

// runDev blocks until the coordinator has shut the session down, either on
// a signal, after the last app instance exited, or after a phase failed.
func (a *app) runDev() error {
	s, err := openSession(a.flags, "dev", a.stdout, a.stderr)
	if err != nil {
		return err
	}
	d := pipeline.NewDev(pipeline.DevOptionsFromConfig(s.cfg, s.runtime(a.coord), s.forceColor))
	if err := s.serve(d); err != nil {
		_ = s.close(context.Background())
		return err
	}
	if err := d.Run(a.coord.Context()); err != nil {
		a.fail(s, err)
		return nil
	}
	<-a.coord.Done()
	return nil
}

func (a *app) runBuild() error {
	s, err := openSession(a.flags, "build", a.stdout, a.stderr)
	if err != nil {
		return err
	}
	b := pipeline.NewBuild(pipeline.BuildSteps(s.cfg), pipeline.BuildOptions{
		Runtime:     s.runtime(a.coord),
		StepTimeout: s.cfg.Build.StepTimeout,
	})
	if err := b.Run(a.coord.Context()); err != nil {
		a.fail(s, err)
		return nil
	}
	a.coord.Exit(0)
	return nil
}

// fail reports a pipeline error and exits 1. Errors caused by an ongoing
// shutdown are not reported; the shutdown decides the exit code.
func (a *app) fail(s *session, err error) {
	if a.coord.State() == shutdown.Armed {
		s.console.Errorf(s.errTag, "%v", err)
	}
	a.coord.Exit(1)
}
