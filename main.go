package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Nehilsa2/linkedin_outreach/actions"
	"github.com/Nehilsa2/linkedin_outreach/auth"
	"github.com/Nehilsa2/linkedin_outreach/campaign"
	"github.com/Nehilsa2/linkedin_outreach/config"
	"github.com/Nehilsa2/linkedin_outreach/driver"
	"github.com/Nehilsa2/linkedin_outreach/isolation"
	"github.com/Nehilsa2/linkedin_outreach/logging"
	"github.com/Nehilsa2/linkedin_outreach/quota"
	"github.com/Nehilsa2/linkedin_outreach/server"
	"github.com/Nehilsa2/linkedin_outreach/session"
	"github.com/Nehilsa2/linkedin_outreach/stealth"
)

// Short pauses inside a single action, between clicks and typing.
const (
	settleMin = 500 * time.Millisecond
	settleMax = 1500 * time.Millisecond
)

// app carries what every command shares once the root has loaded it.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	log     *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "outreach",
		Short: "Run LinkedIn outreach campaigns from a CLI or an HTTP API",
		Long: `outreach drives a hardened browser through connection and message
campaigns. Each account keeps its own profile store under the data dir, so an
interrupted campaign resumes where it stopped.

Configuration comes from outreach.yaml (or --config), a .env file, and
OUTREACH_ environment variables, e.g. OUTREACH_ISOLATION_MODE=thread.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+" when present)")
	flags.String("data-dir", "", "directory holding one profile store per account")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("isolation", "", "process or thread")
	flags.Bool("headless", true, "run the browser without a window")
	a.v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	a.v.BindPFlag("isolation.mode", flags.Lookup("isolation"))
	a.v.BindPFlag("browser.headless", flags.Lookup("headless"))

	root.AddCommand(
		a.serveCmd(),
		a.workerCmd(),
		a.runCmd(),
		a.statusCmd(),
		a.messageCmd(),
		a.exportCmd(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// newService builds a campaign service with its own session registry.
func (a *app) newService() (*campaign.Service, *session.Registry) {
	c := a.cfg
	factory := driver.NewRodFactory(driver.RodConfig{
		Headless: c.Browser.Headless,
		Bin:      c.Browser.Bin,
		Timeout:  c.Browser.Timeout,
		Humanize: c.Browser.Humanize,
	}, a.log)
	registry := session.NewRegistry(factory, a.log)

	launcher := campaign.NewLauncher(campaign.Config{
		DataDir: c.DataDir,
		Pacer:   stealth.NewPacer(c.Pacing.MinDelay, c.Pacing.MaxDelay),
		Policy: quota.Policy{
			HonorCooldown: c.Limits.HonorLimitCooldown,
			Cooldown:      c.Limits.LimitCooldown,
		},
		MaxTargets: c.Limits.MaxTargets,
	},
		registry,
		auth.New(c.BaseURL, filepath.Join(c.DataDir, "cookies"), a.log),
		actions.New(a.log, stealth.NewPacer(settleMin, settleMax)),
		a.log,
	)
	return campaign.NewService(launcher), registry
}

func (a *app) workers() int {
	if a.cfg.Isolation.Workers > 0 {
		return a.cfg.Isolation.Workers
	}
	mem, err := isolation.AvailableMemory()
	if err != nil {
		a.log.Warn("cannot read available memory, using one worker", zap.Error(err))
		return 1
	}
	return isolation.RecommendedWorkers(mem, a.cfg.Isolation.MemoryPerWorkerMB<<20)
}

// newExecutor returns the configured isolation executor and a function
// that releases it.
func (a *app) newExecutor() (isolation.Executor, func(), error) {
	workers := a.workers()
	a.log.Info("isolation",
		zap.String("mode", a.cfg.Isolation.Mode),
		zap.Int("workers", workers))

	if a.cfg.Isolation.Mode == config.ModeThread {
		svc, registry := a.newService()
		pool := isolation.NewThreadPool(workers, campaign.NewHandler(svc), a.log)
		return pool, func() {
			pool.Close()
			if err := registry.Shutdown(); err != nil {
				a.log.Warn("registry shutdown", zap.Error(err))
			}
		}, nil
	}

	args := []string{isolation.WorkerCommand}
	if a.cfgFile != "" {
		args = append(args, "--config", a.cfgFile)
	}
	pool, err := isolation.NewProcessPool(isolation.ProcessConfig{
		Args:    args,
		Workers: workers,
		Env: []string{
			config.EnvPrefix + "_DATA_DIR=" + a.cfg.DataDir,
			config.EnvPrefix + "_LOG_LEVEL=" + a.cfg.Log.Level,
			fmt.Sprintf("%s_BROWSER_HEADLESS=%t", config.EnvPrefix, a.cfg.Browser.Headless),
		},
	}, a.log)
	if err != nil {
		return nil, nil, err
	}
	return pool, func() { pool.Close() }, nil
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, release, err := a.newExecutor()
			if err != nil {
				return err
			}
			defer release()

			srv := server.New(server.Config{
				Addr:             a.cfg.Server.Addr,
				ShutdownTimeout:  a.cfg.Server.ShutdownTimeout,
				MaxTargets:       a.cfg.Limits.MaxTargets,
				DailyConnections: a.cfg.Limits.DailyConnections,
				DailyMessages:    a.cfg.Limits.DailyMessages,
			}, campaign.NewClient(exec), a.log)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(ctx)
			})
			g.Go(func() error {
				sigs := make(chan os.Signal, 1)
				signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sigs)
				select {
				case sig := <-sigs:
					a.log.Info("shutting down", zap.String("signal", sig.String()))
					cancel()
				case <-ctx.Done():
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8000)")
	a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// workerCmd serves exactly one task for a ProcessPool.
func (a *app) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    isolation.WorkerCommand,
		Short:  "Run one isolated task read from stdin",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, registry := a.newService()
			defer func() {
				if err := registry.ClearAll(); err != nil {
					a.log.Warn("clear sessions", zap.Error(err))
				}
			}()
			return isolation.ServeWorker(cmd.Context(), os.Stdin, os.Stdout, campaign.NewHandler(svc))
		},
	}
}
