package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/edurange/internal/config"
	"github.com/chainguard-dev/edurange/internal/lifecycle"
	"github.com/chainguard-dev/edurange/internal/log"
	"github.com/chainguard-dev/edurange/internal/o11y"
	"github.com/chainguard-dev/edurange/internal/scenario"
	"github.com/chainguard-dev/edurange/internal/skip"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type app struct {
	cfg   *config.Config
	runID string

	// shutdown flushes pending spans.
	shutdown o11y.ShutdownFunc

	// instances restricts commands to the named instances.
	instances []string
	// include and exclude select instances by label.
	include map[string]string
	exclude map[string]string

	newBackend func(ctx context.Context, cfg *config.Config) (*backend, error)
}

func newApp() *app {
	return &app{
		newBackend: newBackend,
		shutdown:   func(context.Context) error { return nil },
	}
}

func (a *app) root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "edurange",
		Short:         "Provision and tear down cybersecurity training scenarios",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	cmd.PersistentFlags().StringSliceVarP(&a.instances, "instance", "i", nil, "only act on the named instances (default all)")
	cmd.PersistentFlags().StringToStringVar(&a.include, "include", nil, "only act on instances with all of these labels, e.g. role=web")
	cmd.PersistentFlags().StringToStringVar(&a.exclude, "exclude", nil, "skip instances with any of these labels, e.g. internet=true")

	cmd.AddCommand(a.planCmd(), a.startCmd(), a.stopCmd(), a.statusCmd())
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.runID = uuid.New().String()

	ctx := log.Setup(cmd.Context(), cmd.ErrOrStderr(), level)
	ctx = clog.WithValues(ctx, o11y.AttrRunID, a.runID, o11y.AttrProvider, cfg.Provider)
	shutdown, err := o11y.SetupTracing(ctx, version)
	if err != nil {
		log.Warn(ctx, "tracing disabled", "error", err)
	}
	a.shutdown = shutdown
	cmd.SetContext(ctx)
	return nil
}

func (a *app) planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <scenario.yml>",
		Short: "List the instances of a scenario without touching any provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instances, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), instances)
		},
	}
}

func (a *app) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <scenario.yml>",
		Short: "Start the instances of a scenario and wait until they are ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()
			return a.each(cmd.Context(), args[0], func(ctx context.Context, ctrl *lifecycle.Controller, inst *scenario.InstanceConfig) error {
				if err := ctrl.Start(ctx, inst.Subnet.ProviderID); err != nil {
					return err
				}
				ip := "-"
				if addr, ok := ctrl.PublicIPAddress(); ok {
					ip = addr.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ctrl.Identity(), ctrl.State(), ctrl.Resource().ID, ip)
				return nil
			})
		},
	}
}

func (a *app) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <scenario.yml>",
		Short: "Tear down the instances of a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()
			return a.each(cmd.Context(), args[0], func(ctx context.Context, ctrl *lifecycle.Controller, _ *scenario.InstanceConfig) error {
				err := ctrl.Stop(ctx)
				switch {
				case lifecycle.IsNotFound(err):
					log.Info(ctx, "nothing to stop")
					fmt.Fprintf(w, "%s\t%s\n", ctrl.Identity(), "absent")
					return nil
				case err != nil:
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", ctrl.Identity(), ctrl.State())
				return nil
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <scenario.yml>",
		Short: "Report which instances of a scenario exist and are ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()
			return a.each(cmd.Context(), args[0], func(ctx context.Context, ctrl *lifecycle.Controller, _ *scenario.InstanceConfig) error {
				started, err := ctrl.Started(ctx)
				if err != nil {
					return err
				}
				status := "not started"
				if started {
					status = "started"
				}
				fmt.Fprintf(w, "%s\t%s\n", ctrl.Identity(), status)
				return nil
			})
		},
	}
}

// flush exports the spans still buffered. It is bounded so a dead collector
// cannot hold up exit.
func (a *app) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "flushing traces:", err)
	}
}

// load returns the selected instances of the scenario at path.
func (a *app) load(ctx context.Context, path string) ([]*scenario.InstanceConfig, error) {
	s, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	named, err := selectInstances(s, a.instances)
	if err != nil {
		return nil, err
	}

	var out []*scenario.InstanceConfig
	for _, inst := range named {
		if skipped, reason := skip.Skip(skip.InstanceLabels(inst), a.include, a.exclude); skipped {
			log.Debug(ctx, reason, "instance", inst.Name)
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// each runs fn for every selected instance in turn, each with its own log
// file. Failures do not stop the remaining instances unless ctx is done.
func (a *app) each(ctx context.Context, path string, fn func(context.Context, *lifecycle.Controller, *scenario.InstanceConfig) error) error {
	instances, err := a.load(ctx, path)
	if err != nil {
		return err
	}

	b, err := a.newBackend(ctx, a.cfg)
	if err != nil {
		return err
	}
	mgr := lifecycle.NewManager(b.compute, lifecycle.NewReadiness(b.store, b.bucket), a.cfg.ManagerOptions()...)

	var errs []error
	for _, inst := range instances {
		ctrl := mgr.Controller(inst)
		ictx, done := log.SetupInstanceLogging(ctx, a.cfg.LogsDir, a.runID, lifecycle.Slug(ctrl.Identity().String()))
		err := fn(ictx, ctrl, inst)
		done()
		if err != nil {
			log.Error(ctx, "instance failed", "instance", ctrl.Identity().String(), "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// selectInstances returns the instances named in names, or all of them when
// names is empty.
func selectInstances(s *scenario.Scenario, names []string) ([]*scenario.InstanceConfig, error) {
	all := s.Instances()
	if len(names) == 0 {
		return all, nil
	}

	var out []*scenario.InstanceConfig
	for _, inst := range all {
		if slices.Contains(names, inst.Name) {
			out = append(out, inst)
		}
	}
	for _, name := range names {
		if !slices.ContainsFunc(out, func(i *scenario.InstanceConfig) bool { return i.Name == name }) {
			return nil, fmt.Errorf("scenario %s has no instance %q", s.Name, name)
		}
	}
	return out, nil
}

func printPlan(out io.Writer, instances []*scenario.InstanceConfig) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tSUBNET\tOS\tADDRESS\tINTERNET\tROLES\tPACKAGES")
	for _, inst := range instances {
		addr := "dynamic"
		if !inst.DynamicIPAddress() {
			addr = inst.IPAddress.String()
		}
		roles := make([]string, 0, len(inst.Roles))
		for _, r := range inst.Roles {
			roles = append(roles, r.Name)
		}
		if _, err := inst.InstallCommands(); err != nil {
			return fmt.Errorf("instance %s: %w", inst.Name, err)
		}
		packages := make([]string, 0, len(inst.Packages()))
		for _, p := range inst.Packages() {
			packages = append(packages, p.Name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			lifecycle.NewIdentity(inst), inst.Subnet.ProviderID, inst.OS, addr,
			inst.InternetAccessible, strings.Join(roles, ","), strings.Join(packages, ","))
	}
	return w.Flush()
}
