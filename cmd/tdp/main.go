package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"tdprio/internal/app"
	"tdprio/internal/catalog"
	"tdprio/internal/config"
	"tdprio/internal/db"
	"tdprio/internal/domain"
	"tdprio/internal/engine"
	"tdprio/internal/migrate"
	"tdprio/internal/repo"
	"tdprio/internal/server"
)

var version = "dev"

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "tdp",
	Short: "Technical-debt prioritization CLI",
	Long: `tdp orders technical-debt remediation with Monte Carlo tree search.
Core concepts:
- Item: one piece of debt with a time spend, lines it changes, maintainability debt and reliability remediation time.
- Metrics: the project's static-analysis snapshot; addressing an item moves it.
- Plan: an order in which every item is addressed; its reward balances quality gained against cost.
- Dataset: a named set of items plus initial metrics (built-in default, small, medium, big, or YAML files listed in tdprio.yml).
- Sweep: one full plan per simulation count 0..N-1, showing how the chosen order settles as search gets more rollouts.
- Event log: what happened, view with 'tdp log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		l, err := newLogger(viper.GetBool("verbose"))
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TDPRIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringP("dataset", "d", "", "dataset name (overrides config and .env)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("dataset", rootCmd.PersistentFlags().Lookup("dataset"))
}

func registerCommands() {
	rootCmd.AddCommand(datasetCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func datasetCmd() *cobra.Command {
	ds := &cobra.Command{
		Use:   "dataset",
		Short: "Inspect datasets",
		Long:  "Datasets are the starting points for planning: built-ins plus any YAML files listed under datasets.files in tdprio.yml.",
	}
	ds.AddCommand(datasetListCmd())
	ds.AddCommand(datasetShowCmd())
	ds.AddCommand(datasetUseCmd())
	return ds
}

func datasetListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cat, err := app.Resolve(viper.GetString("workspace"), afero.NewOsFs())
			if err != nil {
				return err
			}
			var all []catalog.Dataset
			for _, name := range cat.Names() {
				d, err := cat.Get(name)
				if err != nil {
					return err
				}
				all = append(all, d)
			}
			if viper.GetBool("json") {
				return printJSON(all)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "Items", "Lines", "Issues", "Reliability Effort"})
			for _, d := range all {
				tw.AppendRow(table.Row{d.Name, len(d.Items), d.Metrics.Lines, d.Metrics.Issues, d.Metrics.RemEffRel})
			}
			tw.Render()
			return nil
		},
	}
}

func datasetShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Show dataset items and initial metrics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cat, err := app.Resolve(viper.GetString("workspace"), afero.NewOsFs())
			if err != nil {
				return err
			}
			name := activeDataset(cfg)
			if len(args) == 1 {
				name = args[0]
			}
			d, err := cat.Get(name)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(d)
			}
			fmt.Printf("Dataset %s\n", d.Name)
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "ID", "Spend", "Defined", "Lines Changed", "Debt Maintain", "Remediation"})
			for i, td := range d.Items {
				tw.AppendRow(table.Row{i, td.ID, td.Spend, td.Defined, td.LinesChanged, td.DebtMaintain, td.RemediationTime})
			}
			tw.Render()
			printMetrics(d.Metrics)
			return nil
		},
	}
}

func datasetUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Set the default dataset for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			workspace := viper.GetString("workspace")
			_, cat, err := app.Resolve(workspace, afero.NewOsFs())
			if err != nil {
				return err
			}
			if _, err := cat.Get(name); err != nil {
				return err
			}
			if err := setEnvValue(filepath.Join(workspace, ".env"), "TDPRIO_DATASET", name); err != nil {
				return err
			}
			fmt.Printf("Set TDPRIO_DATASET=%s in %s/.env\n", name, workspace)
			return nil
		},
	}
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Score remediation plans",
	}
	plan.AddCommand(planEvaluateCmd())
	return plan
}

func planEvaluateCmd() *cobra.Command {
	var order []int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Address items in the given index order and print the reward",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.EvaluatePlan(ctx, activeDataset(e.Config), order)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Dataset %s, addressed ids %s\nReward %.6f\n", res.Dataset, joinInts(res.IDs), res.Reward)
				printMetrics(res.Metrics)
				return nil
			})
		},
	}
	cmd.Flags().IntSliceVar(&order, "order", nil, "item indices in the order they are addressed, e.g. 0,1,2,3")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func sweepCmd() *cobra.Command {
	sw := &cobra.Command{
		Use:   "sweep",
		Short: "Run and inspect rollout sweeps",
		Long:  "A sweep plays one full plan per simulation count and stores the order items were addressed in, so you can see where search settles.",
	}
	sw.AddCommand(sweepRunCmd())
	sw.AddCommand(sweepListCmd())
	sw.AddCommand(sweepShowCmd())
	sw.AddCommand(sweepTrendCmd())
	sw.AddCommand(sweepDeleteCmd())
	return sw
}

func sweepRunCmd() *cobra.Command {
	var opts engine.SweepOptions
	var seed int64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sweep over simulation counts 0..max-1",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Dataset = activeDataset(e.Config)
				if cmd.Flags().Changed("seed") {
					opts.Seed = &seed
				}
				s, err := e.RunSweep(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Sweep %s on %s (seed %d)\n", s.ID, s.Dataset, s.Seed)
				renderRuns(s.Runs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "sweep id (default random uuid)")
	cmd.Flags().IntVar(&opts.MaxSimulations, "max-simulations", 0, "exclusive upper bound on rollouts per step (default from config)")
	cmd.Flags().Float64Var(&opts.ExplorationWeight, "exploration-weight", 0, "UCT exploration weight (default from config)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (default from config)")
	cmd.Flags().IntVar(&opts.Parallelism, "parallelism", 0, "simulation counts run at once (default from config)")
	return cmd
}

func sweepListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sweeps, err := e.Repo.ListSweeps(ctx, repoFilters(limit))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sweeps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Dataset", "Max Sims", "Weight", "Seed", "Created"})
				for _, s := range sweeps {
					tw.AppendRow(table.Row{s.ID, s.Dataset, s.MaxSimulations, s.ExplorationWeight, s.Seed, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max sweeps to list")
	return cmd
}

func sweepShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a sweep with its runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSweep(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Sweep %s on %s (max %d, weight %g, seed %d, %s)\n", s.ID, s.Dataset, s.MaxSimulations, s.ExplorationWeight, s.Seed, s.CreatedAt)
				renderRuns(s.Runs)
				return nil
			})
		},
	}
}

func sweepTrendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trend <id>",
		Short: "Show the id addressed at each position per simulation count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tr, err := e.SweepTrend(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tr)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				header := table.Row{"Position"}
				for _, sims := range tr.Simulations {
					header = append(header, sims)
				}
				tw.AppendHeader(header)
				for k, ids := range tr.Positions {
					row := table.Row{k + 1}
					for _, id := range ids {
						row = append(row, id)
					}
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
}

func sweepDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteSweep(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted sweep %s\n", args[0])
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect experiment config",
		Long:  "tdprio.yml in the workspace sets the default dataset, sweep size, exploration weight, seed, extra dataset files, server address and webhooks. Without it, defaults apply.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(afero.NewOsFs(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate tdprio.yml and its dataset files",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := app.Resolve(viper.GetString("workspace"), afero.NewOsFs())
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default tdprio.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every stored or deleted sweep leaves an event; webhooks receive the same entries.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if addr == "" {
					addr = e.Config.Server.Addr
				}
				if basePath == "" {
					basePath = e.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt_secret"), Logger: logger}
				if authCfg.JWTSecret == "" {
					logger.Warn("TDPRIO_JWT_SECRET not set; API is unauthenticated")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Version: version})
				if err != nil {
					return err
				}
				go server.RunWebhooks(ctx, e)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving tdprio API",
					zap.String("url", "http://"+addr+basePath),
					zap.String("openapi", basePath+"/openapi.json"),
					zap.String("docs", "/docs"),
					zap.String("metrics", "/metrics"))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, cat, err := app.Resolve(workspace, afero.NewOsFs())
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg, cat, logger)
	return fn(ctx, e)
}

// activeDataset prefers --dataset / TDPRIO_DATASET over the config default.
func activeDataset(cfg *config.Config) string {
	if name := strings.TrimSpace(viper.GetString("dataset")); name != "" {
		return name
	}
	if cfg != nil {
		return cfg.Experiment.Dataset
	}
	return ""
}

func repoFilters(limit int) repo.SweepFilters {
	return repo.SweepFilters{Dataset: strings.TrimSpace(viper.GetString("dataset")), Limit: limit}
}

func renderRuns(runs []domain.Run) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Simulations", "Addressed Order", "Reward"})
	for _, r := range runs {
		tw.AppendRow(table.Row{r.Simulations, joinInts(r.Order), fmt.Sprintf("%.6f", r.Reward)})
	}
	tw.Render()
}

func printMetrics(m domain.ProjectMetrics) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	for i, v := range m.Values() {
		tw.AppendRow(table.Row{domain.MetricNames[i], v})
	}
	tw.Render()
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
