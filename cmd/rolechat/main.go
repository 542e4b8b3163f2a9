package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rolechat/internal/admin"
	"rolechat/internal/chat"
	"rolechat/internal/config"
	"rolechat/internal/embedding"
	"rolechat/internal/llm"
	"rolechat/internal/news"
	"rolechat/internal/push"
	"rolechat/internal/retrieval"
	"rolechat/internal/roles"
	"rolechat/internal/scheduler"
	"rolechat/internal/session"
)

var version = "dev"

var (
	// Global flags
	verbose    bool
	configPath string
	userID     string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rolechat",
	Short: "rolechat - persona chat agent with retrieval-augmented replies",
	Long: `rolechat is a role-play conversational agent. It keeps multiple named
sessions per user, retrieves matching dialogue and background passages
for the active persona, and injects them into each model prompt.

Run without arguments to start the interactive chat loop.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive()
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Fetch the configured feeds and print the digest",
	RunE:  runReport,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rolechat version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rolechat %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "rolechat.yaml", "path to the config file")
	rootCmd.Flags().StringVarP(&userID, "user", "u", "operator", "user id for the interactive loop")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

// core bundles everything the interactive loop needs.
type core struct {
	cfg     *config.Config
	service *session.UserService
	sched   *scheduler.Scheduler
	close   func()
}

func buildCore() (*core, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	resolver := llm.NewResolver(cfg.LLM)
	if _, err := resolver.Default(); err != nil {
		return nil, fmt.Errorf("default model %q is unusable: %w", cfg.LLM.DefaultModel, err)
	}

	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	if embedder == nil {
		logger.Info("no embedding provider configured, retrieval uses keyword scoring")
	}

	engine, err := retrieval.NewEngine(retrieval.Config{
		ChunksPath:     cfg.Storage.ChunksPath,
		BackgroundPath: cfg.Storage.BackgroundPath,
	}, embedder, logger)
	if err != nil {
		// A missing corpus degrades roleplay replies, it does not block
		// startup.
		logger.Warn("retrieval corpus unavailable", zap.Error(err))
		engine = nil
	}

	roleSet := roles.NewRegistry(cfg.Storage.RolesPath, logger)

	history, err := chat.NewHistoryStore(cfg.Storage.HistoryDBPath, logger)
	if err != nil {
		return nil, err
	}

	// The config-update callback points at the user service, which is
	// built after the factories that capture it.
	var svc *session.UserService
	deps := chat.Deps{
		NewModel:  func() (llm.Client, error) { return resolver.Default() },
		History:   history,
		Roles:     roleSet,
		Retrieval: engine,
		UpdateConfig: func(sessionID, key, value string) {
			if svc != nil {
				svc.UpdateSessionConfig(sessionID, key, value)
			}
		},
		Logger: logger,
	}
	factories := chat.DefaultRegistry(deps)

	pusher := push.NewChunked(push.NewConsole(logger), cfg.Push.MaxMessageLength)
	fetcher := news.NewFetcher(cfg.News, logger)
	job := scheduler.NewReportJob(fetcher, pusher, cfg.News.Format, cfg.Schedule.TargetGroups, logger)
	sched, err := scheduler.New(cfg.Schedule, job, logger)
	if err != nil {
		history.Close()
		return nil, err
	}

	gate := admin.NewGate(cfg.Admin.UserIDs, logger)
	dispatcher := admin.NewDispatcher(gate, logger)
	dispatcher.Register("triggernews", "run the report job now",
		func(ctx context.Context, _, _ string) string {
			status, err := sched.RunNow(ctx)
			if err != nil {
				return fmt.Sprintf("Report job failed: %v", err)
			}
			return status
		})
	dispatcher.Register("reload", "reload the roles config",
		func(_ context.Context, _, _ string) string {
			if err := roleSet.Reload(); err != nil {
				return fmt.Sprintf("Reload failed: %v", err)
			}
			return fmt.Sprintf("Roles reloaded: %s.", strings.Join(roleSet.Names(), ", "))
		})

	store := session.NewStore(cfg.Storage.UserDataPath, logger)
	svc = session.NewUserService(store, factories, roleSet, session.Options{
		Models:  resolver,
		History: history,
		Admin:   dispatcher,
		Logger:  logger,
	})

	return &core{
		cfg:     cfg,
		service: svc,
		sched:   sched,
		close:   func() { history.Close() },
	}, nil
}

func runInteractive() error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.cfg.Schedule.Enabled {
		c.sched.Start()
		defer c.sched.Stop()
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize renderer: %w", err)
	}

	fmt.Printf("rolechat %s — /help for commands, exit to quit\n", version)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		reply, err := c.service.HandleMessage(ctx, userID, line)
		if err != nil {
			fmt.Printf("error: %v (you can retry)\n", err)
			continue
		}
		if reply == "" {
			continue
		}

		if rendered, err := renderer.Render(reply); err == nil {
			fmt.Print(rendered)
		} else {
			fmt.Println(reply)
		}

		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	fetcher := news.NewFetcher(cfg.News, logger)
	report, err := fetcher.BuildReport(cmd.Context())
	if err != nil {
		return err
	}

	md := news.Render(report, "markdown")
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		fmt.Println(md)
		return nil
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		fmt.Println(md)
		return nil
	}
	fmt.Print(rendered)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
