package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/followup/internal/analyzer"
	"github.com/TobiSchelling/followup/internal/collect"
	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/editorial"
	"github.com/TobiSchelling/followup/internal/fetch"
	"github.com/TobiSchelling/followup/internal/followup"
	"github.com/TobiSchelling/followup/internal/llm"
	"github.com/TobiSchelling/followup/internal/pipeline"
	"github.com/TobiSchelling/followup/internal/report"
	"github.com/TobiSchelling/followup/internal/scheduler"
	"github.com/TobiSchelling/followup/internal/search"
	"github.com/TobiSchelling/followup/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	logLevel   string
	logFormat  string
	regionSlug string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "followup",
	Short:   "Story follow-up engine",
	Long:    "followup threads ongoing stories per region and tells editors when a story needs a follow-up.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			logrus.Debug("No .env file found, using environment variables")
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return setupLogging(config.Logging{Level: logLevel, Format: logFormat})
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		return setupLogging(cfg.Logging)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")

	for _, c := range []*cobra.Command{runCmd, ingestCmd, fetchCmd, triggersCmd, sweepCmd, engagementCmd, queueCmd} {
		c.Flags().StringVarP(&regionSlug, "region", "r", "", "Region slug (default: all configured regions)")
	}

	rootCmd.AddCommand(initCmd, versionCmd, statusCmd, regionsCmd, runCmd, ingestCmd, fetchCmd,
		processCmd, triggersCmd, sweepCmd, engagementCmd, queueCmd, resetTriggerCmd, serveCmd)
}

func setupLogging(l config.Logging) error {
	level := logrus.InfoLevel
	if l.Level != "" {
		parsed, err := logrus.ParseLevel(l.Level)
		if err != nil {
			return err
		}
		level = parsed
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(l.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("followup", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/followup/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure regions, feeds, API keys and the analyzer.")
		return nil
	},
}

// app bundles everything a command needs.
type app struct {
	db       *database.DB
	svc      *followup.Service
	fetcher  *fetch.ContentFetcher
	ingester *collect.Ingester
}

func newApp() (*app, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := database.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	queue, err := editorial.New(cfg.Editorial, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up editorial queue: %w", err)
	}
	a := analyzer.NewLLMAnalyzer(llm.CreateProvider(cfg.Analyzer), cfg.Analyzer.MaxTokens)
	svc := followup.New(db, a, search.NewNewsAPIClient(cfg.Search), queue, cfg)
	if err := svc.SyncRegions(cfg.Regions); err != nil {
		db.Close()
		return nil, err
	}

	fetcher := fetch.NewContentFetcher(db, 0)
	return &app{
		db:       db,
		svc:      svc,
		fetcher:  fetcher,
		ingester: collect.NewIngester(db, svc, fetcher, 2),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

// regions returns the regions selected by --region, or all of them.
func (a *app) regions() ([]config.Region, error) {
	if regionSlug == "" {
		if len(cfg.Regions) == 0 {
			return nil, fmt.Errorf("no regions configured")
		}
		return cfg.Regions, nil
	}
	r, ok := cfg.FindRegion(regionSlug)
	if !ok {
		return nil, fmt.Errorf("unknown region %q", regionSlug)
	}
	return []config.Region{r}, nil
}

// forEachRegion resolves the selected regions and calls fn for each.
func (a *app) forEachRegion(fn func(r config.Region, regionID int64) error) error {
	regions, err := a.regions()
	if err != nil {
		return err
	}
	for _, r := range regions {
		region, err := a.svc.Region(r.Slug)
		if err != nil {
			return err
		}
		if region == nil {
			return fmt.Errorf("region %q not in database", r.Slug)
		}
		if err := fn(r, region.ID); err != nil {
			return err
		}
	}
	return nil
}

// withApp wraps a command body with app setup and teardown, and a context
// canceled on SIGINT/SIGTERM.
func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, a, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		stats, err := a.svc.Stats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", a.db.Path())
		fmt.Printf("Regions: %d\n", stats.Regions)
		fmt.Println("Articles:")
		fmt.Printf("  Total: %d\n", stats.Articles)
		fmt.Printf("  Threaded: %d\n", stats.ThreadedArticles)
		fmt.Println("\nThreads:")
		for _, s := range []database.ThreadStatus{database.StatusDeveloping, database.StatusMonitoring, database.StatusDormant, database.StatusResolved} {
			fmt.Printf("  %s: %d\n", s, stats.Threads[s])
		}
		fmt.Println("\nTriggers:")
		fmt.Printf("  Pending: %d\n", stats.PendingTriggers)
		fmt.Printf("  Triggered: %d\n", stats.TriggeredTriggers)
		fmt.Printf("  Expired: %d\n", stats.ExpiredTriggers)
		fmt.Println("\nFollow-up requests:")
		fmt.Printf("  Total: %d\n", stats.FollowUps)
		fmt.Printf("  Awaiting delivery: %d\n", stats.UnemittedFollowUps)
		return nil
	}),
}

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List regions",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		regions, err := a.db.ListRegions()
		if err != nil {
			return err
		}
		for _, r := range regions {
			feeds := 0
			if c, ok := cfg.FindRegion(r.Slug); ok {
				feeds = len(c.Feeds)
			}
			fmt.Printf("  [%d] %s (%s), %d feeds\n", r.ID, r.Slug, r.Name, feeds)
		}
		return nil
	}),
}

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every job once: ingest -> fetch -> engagement -> triggers -> statuses",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		pipe := pipeline.New(a.ingester, a.fetcher, a.svc, a.db)
		return a.forEachRegion(func(r config.Region, regionID int64) error {
			var result *pipeline.Result
			if dryRun {
				result = pipe.DryRun(r, regionID)
			} else {
				result = pipe.Run(ctx, r, regionID)
			}

			fmt.Printf("Region %s\n", r.Slug)
			for i, step := range result.Steps {
				fmt.Printf("  Step %d/%d: %s\n", i+1, len(result.Steps), step.Name)
				if step.Err != nil {
					fmt.Printf("    Error: %v\n", step.Err)
				} else {
					fmt.Printf("    %s\n", step.Summary)
				}
			}
			return nil
		})
	}),
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Collect new articles from region feeds and thread them",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return a.forEachRegion(func(r config.Region, regionID int64) error {
			res := a.ingester.Ingest(ctx, r, regionID)
			fmt.Printf("%s: %d found, %d new, %d duplicates, %d threaded, %d errors\n",
				r.Slug, res.Found, res.New, res.Duplicates, res.Threaded, res.Errors)
			return nil
		})
	}),
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch full text for articles without content",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if regionSlug == "" {
			res := a.fetcher.FetchMissingContent(ctx, nil)
			fmt.Printf("%d fetched, %d failed, %d skipped\n", res.Fetched, res.Failed, res.Skipped)
			return nil
		}
		return a.forEachRegion(func(r config.Region, regionID int64) error {
			res := a.fetcher.FetchMissingContent(ctx, &regionID)
			fmt.Printf("%s: %d fetched, %d failed, %d skipped\n", r.Slug, res.Fetched, res.Failed, res.Skipped)
			return nil
		})
	}),
}

var processCmd = &cobra.Command{
	Use:   "process [article-id]",
	Short: "Thread a single article",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid article ID: %s", args[0])
		}
		t, err := a.svc.ProcessNewArticle(ctx, id)
		if err != nil {
			return err
		}
		if t == nil {
			fmt.Printf("Article %d was not threaded\n", id)
			return nil
		}
		fmt.Printf("Article %d is in thread [%d] %s (%s)\n", id, t.ID, t.Title, t.Status)
		return nil
	}),
}

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Process due follow-up triggers",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return a.forEachRegion(func(r config.Region, regionID int64) error {
			res := a.svc.ProcessTriggers(ctx, regionID)
			fmt.Printf("%s: %d processed, %d triggered, %d expired, %d errors\n",
				r.Slug, res.Processed, res.Triggered, res.Expired, len(res.Errors))
			for _, e := range res.Errors {
				fmt.Printf("  trigger %d: %s\n", e.TriggerID, e.Message)
			}
			return nil
		})
	}),
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Update thread lifecycle statuses",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return a.forEachRegion(func(r config.Region, regionID int64) error {
			res := a.svc.UpdateThreadStatuses(ctx, regionID)
			fmt.Printf("%s: %d checked, %d resolved, %d dormant, %d monitoring, %d errors\n",
				r.Slug, res.Checked, res.Resolved, res.Dormant, res.Monitoring, res.Errors)
			return nil
		})
	}),
}

var engagementCmd = &cobra.Command{
	Use:   "engagement",
	Short: "Thread high-engagement articles",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return a.forEachRegion(func(r config.Region, regionID int64) error {
			res := a.svc.ProcessHighEngagementArticles(ctx, regionID)
			fmt.Printf("%s: %d analyzed, %d threads created, %d joined, %d errors\n",
				r.Slug, res.ArticlesAnalyzed, res.ThreadsCreated, res.ThreadsJoined, res.Errors)
			return nil
		})
	}),
}

var (
	queueLimit  int
	queueFormat string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the editorial follow-up queue",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		formats := []string{"text", "md", "html", "json"}
		if !slices.Contains(formats, queueFormat) {
			return fmt.Errorf("format must be one of %s", strings.Join(formats, ", "))
		}
		return a.forEachRegion(func(r config.Region, regionID int64) error {
			entries, err := a.svc.GenerateFollowUpQueue(ctx, regionID, queueLimit)
			if err != nil {
				return err
			}
			q := report.Queue{Region: r.Slug, GeneratedAt: time.Now(), Entries: entries}
			switch queueFormat {
			case "md":
				fmt.Print(report.Markdown(q))
				return nil
			case "html":
				return report.HTML(os.Stdout, q)
			case "json":
				return printJSON(q)
			}
			return report.Text(os.Stdout, q)
		})
	}),
}

func init() {
	queueCmd.Flags().IntVarP(&queueLimit, "limit", "n", 0, "Maximum entries (default: policy.queue_limit)")
	queueCmd.Flags().StringVarP(&queueFormat, "format", "f", "text", "Output format: text, md, html, json")
}

var resetTriggerCmd = &cobra.Command{
	Use:   "reset-trigger [id]",
	Short: "Put a triggered or expired trigger back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid trigger ID: %s", args[0])
		}
		if err := a.db.ResetTrigger(id, time.Now()); err != nil {
			return fmt.Errorf("resetting trigger %d: %w", id, err)
		}
		fmt.Printf("Trigger %d is pending again\n", id)
		return nil
	}),
}

var (
	servePort   int
	noScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the job scheduler",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if !noScheduler {
			sched := scheduler.NewService(cfg, a.svc, a.ingester)
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("starting scheduler: %w", err)
			}
			defer sched.Stop()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return server.Serve(ctx, a.svc, port)
	}),
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default: server.port)")
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve the API without running scheduled jobs")
}
