package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

const usage = `usage: odyssey <command> [flags]

commands:
  serve                          run the HTTP API (default)
  bootstrap -f chart.yaml        seed accounts, role mappings and dimensions
  reconcile -period YYYY-MM -axis CODE [-module m1,m2] [-json]
  jobs trigger reconcile|integrity [-period P] [-axis a1,a2]
  jobs stats
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, cfg, logger)
	case "bootstrap":
		code = bootstrap(ctx, cfg, logger, args)
	case "reconcile":
		code = reconcileCmd(ctx, cfg, logger, args)
	case "jobs":
		code = jobsCmd(ctx, cfg, args)
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	rt, err := app.OpenRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", slog.Any("error", err))
		return 1
	}
	defer rt.Close()

	if err := rt.Cache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("subscribe gl cache invalidation", slog.Any("error", err))
	}
	rt.RefreshEvery(ctx, cfg.GLSnapshotRefresh)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		GLHandler:  rt.GLHandler(),
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    rt.Metrics,
		Readiness:  rt.Readiness(),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			cancelServe()
		}
	}()

	<-serveCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func bootstrap(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	path := fs.String("f", cfg.GLChartFile, "chart file to apply")
	dryRun := fs.Bool("dry-run", false, "parse and summarise without writing")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var applier cli.ChartApplier
	if !*dryRun {
		rt, err := app.OpenRuntime(ctx, cfg, logger)
		if err != nil {
			logger.Error("open runtime", slog.Any("error", err))
			return 1
		}
		defer rt.Close()
		applier = accounts.NewBootstrapper(rt.Accounts, rt.Dimensions, logger)
	}
	return cli.BootstrapCommand(ctx, applier, cli.BootstrapOptions{Path: *path, DryRun: *dryRun})
}

func reconcileCmd(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	period := fs.String("period", "", "accounting period YYYY-MM")
	axis := fs.String("axis", "", "dimension code to reconcile by")
	modules := fs.String("module", "", "comma-separated modules (default all)")
	actor := fs.Int64("actor", 0, "actor id recorded on the audit event")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rt, err := app.OpenRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", slog.Any("error", err))
		return cli.ExitFailure
	}
	defer rt.Close()

	var moduleList []string
	if *modules != "" {
		moduleList = []string{*modules}
	}
	return cli.NewReconcileCLI(rt.Reconcile).RunCommand(ctx, cli.ReconcileOptions{
		Period:     *period,
		Axis:       *axis,
		Modules:    moduleList,
		ActorID:    *actor,
		JSONOutput: *asJSON,
	})
}

func jobsCmd(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			_, _ = fmt.Fprint(os.Stderr, usage)
			return 2
		}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		period := fs.String("period", "", "period YYYY-MM, current or previous")
		axes := fs.String("axis", "", "comma-separated axes (reconcile only)")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		var axisList []string
		if *axes != "" {
			axisList = strings.Split(*axes, ",")
		}
		info, err := jobsCLI.Trigger(ctx, args[1], *period, axisList)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		scheduled, err := jobsCLI.ListScheduled(ctx, 10)
		if err == nil {
			for _, task := range scheduled {
				_, _ = fmt.Fprintf(os.Stdout, "  scheduled %s at %s\n", task.Type, task.NextProcessAt.Format(time.RFC3339))
			}
		}
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 2
	}
	return 0
}
