package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/hive/internal/agent"
	"github.com/ShayCichocki/hive/internal/broker"
	"github.com/ShayCichocki/hive/internal/budget"
	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/control"
	"github.com/ShayCichocki/hive/internal/health"
	"github.com/ShayCichocki/hive/internal/llm"
	"github.com/ShayCichocki/hive/internal/memory"
	"github.com/ShayCichocki/hive/internal/merge"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/internal/server"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/internal/token"
	"github.com/ShayCichocki/hive/internal/worktree"
	"github.com/ShayCichocki/hive/pkg/models"
)

var (
	serveGoal    string
	serveWorkers string
	serveTarget  string
	serveNoGit   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hive daemon in the current repository",
	Long: `Start the orchestrator, message broker, agent workers, health
monitor, and HTTP API as one process rooted at the current directory.

An initial goal can be submitted with --goal; further goals go through
POST /api/v1/goals. Drop files named pause, resume, or stop into
.hive/signals/ to control a running session.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveGoal, "goal", "", "Goal to decompose and run on startup")
	serveCmd.Flags().StringVar(&serveWorkers, "workers", "backend=2,test-engineer=1,code-reviewer=1",
		"Comma-separated role=count worker pool spec")
	serveCmd.Flags().StringVar(&serveTarget, "target-branch", "main", "Branch agent work merges into")
	serveCmd.Flags().BoolVar(&serveNoGit, "no-git", false, "Run without worktree isolation and merging")
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// parseWorkerSpec parses "backend=2,test-engineer=1" into role counts.
func parseWorkerSpec(spec string) (map[models.AgentRole]int, error) {
	counts := make(map[models.AgentRole]int)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, countStr, found := strings.Cut(part, "=")
		count := 1
		if found {
			n, err := strconv.Atoi(countStr)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("worker spec %q: bad count", part)
			}
			count = n
		}
		role := models.AgentRole(name)
		if !role.Valid() {
			return nil, fmt.Errorf("worker spec %q: unknown role", part)
		}
		counts[role] += count
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("worker spec %q: no workers", spec)
	}
	return counts, nil
}

func openKV(ctx context.Context, cfg *config.Config, repo string) (store.KV, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedis(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPassword, 0)
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = filepath.Join(control.HiveDir(repo), "kv.db")
		}
		return store.NewSQLite(path)
	default:
		return store.NewMem(), nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workerCounts, err := parseWorkerSpec(serveWorkers)
	if err != nil {
		return err
	}
	repo, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	projectID := filepath.Base(repo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := orchestrator.NewDebugLoggerForRepo(repo)
	defer logger.Close()

	promReg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(promReg)

	bus := broker.New(
		broker.WithHistorySize(cfg.Broker.HistorySize),
		broker.WithRequestTimeout(cfg.Broker.RequestTimeout),
		broker.WithDebugLog(logger.Log),
		broker.WithDeliveryObserver(func(count int) {
			m.MessagePublished()
			m.MessagesDelivered(count)
		}),
	)
	defer bus.Stop()
	reg := registry.New()

	db, err := state.OpenProject(repo)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state db: %w", err)
	}

	kv, err := openKV(ctx, cfg, repo)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer kv.Close()

	embedder, err := memory.NewCachedEmbedder(memory.NewHashEmbedder(), 2048)
	if err != nil {
		return fmt.Errorf("build embedder: %w", err)
	}
	index, err := memory.NewIndex(filepath.Join(control.HiveDir(repo), "memory"), embedder)
	if err != nil {
		return fmt.Errorf("open memory index: %w", err)
	}
	memStore := memory.New(projectID, kv,
		memory.WithEmbedder(embedder),
		memory.WithIndex(index),
		memory.WithShortTermTTL(cfg.Memory.ShortTermTTL),
		memory.WithFetchMultiplier(cfg.Memory.FetchMultiplier),
		memory.WithDebugLog(logger.Log),
	)
	patterns := memory.NewPatternLibrary(kv)
	if seedPath := filepath.Join(control.HiveDir(repo), "patterns.yaml"); fileExists(seedPath) {
		added, err := patterns.LoadSeedFile(ctx, seedPath)
		if err != nil {
			return fmt.Errorf("load pattern seeds: %w", err)
		}
		logger.Log("[serve] seeded %d patterns from %s", added, seedPath)
	}

	budgetMgr := budget.New(
		budget.WithAgentCap(cfg.Budget.AgentCap),
		budget.WithProjectCap(cfg.Budget.ProjectCap),
		budget.WithWarnThreshold(cfg.Budget.WarnThreshold),
		budget.WithPromptShare(cfg.Budget.PromptShare),
		budget.WithDebugLog(logger.Log),
	)

	validatorOpts := []token.ValidatorOption{token.WithReserve(cfg.Context.Reserve)}
	for model, limit := range cfg.Context.ModelLimits {
		validatorOpts = append(validatorOpts, token.WithModelLimit(model, limit))
	}
	validator := token.NewValidator(validatorOpts...)

	llmClient, err := llm.NewClient(llm.Config{
		Model:      cfg.Anthropic.Model,
		APIKey:     cfg.Anthropic.APIKey,
		UseBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:  cfg.Anthropic.AWSRegion,
		AWSProfile: cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("anthropic client: %w", err)
	}
	chargeOrchestrator := func(prompt, completion int64) {
		budgetMgr.RecordUsage("orchestrator", prompt, completion)
		m.AddTokens("prompt", prompt)
		m.AddTokens("completion", completion)
	}

	sched := scheduler.New(reg, bus,
		scheduler.WithMaxPerCycle(cfg.Scheduler.MaxTasksPerCycle),
		scheduler.WithDebugLog(logger.Log),
	)

	var orch *orchestrator.Orchestrator
	healthMon := health.NewMonitor(
		health.WithPollInterval(cfg.Health.PollInterval),
		health.WithStuckThreshold(cfg.Health.StuckThreshold),
		health.WithMaxStuck(cfg.Health.MaxRestarts),
		health.WithDebugLog(logger.Log),
		health.WithOnStuck(func(agentID, taskID string) {
			logger.Log("[health] agent %s stuck on task %s", agentID, taskID)
		}),
		health.WithOnDead(func(agentID, taskID string) {
			logger.Log("[health] agent %s dead, failing task %s", agentID, taskID)
			if taskID != "" && orch != nil {
				orch.MarkComplete(taskID, &models.TaskResult{
					TaskID: taskID, Success: false, Error: "agent " + agentID + " stopped responding",
				})
			}
		}),
	)

	orchOpts := []orchestrator.Option{
		orchestrator.WithPlanner(orchestrator.NewLLMPlanner(llmClient, chargeOrchestrator)),
		orchestrator.WithScheduler(sched),
		orchestrator.WithBudget(budgetMgr),
		orchestrator.WithValidator(validator, string(llmClient.Model())),
		orchestrator.WithMemory(memStore),
		orchestrator.WithPatterns(patterns),
		orchestrator.WithHealthMonitor(healthMon),
		orchestrator.WithStateDB(db),
		orchestrator.WithMetrics(m),
		orchestrator.WithLogger(logger),
	}

	var trees *worktree.Manager
	if !serveNoGit {
		trees, err = worktree.New(repo)
		if err != nil {
			return fmt.Errorf("worktree manager: %w", err)
		}
		mergeOpts := []merge.Option{
			merge.WithStrategy(merge.Strategy(cfg.Merge.DefaultStrategy)),
			merge.WithProtectedPaths(cfg.ProtectedAreas),
			merge.WithCheckpoints(),
			merge.WithDebugLog(logger.Log),
		}
		if cfg.Merge.AllowCombined {
			mergeOpts = append(mergeOpts, merge.WithCombinedAllowed())
		}
		merger := merge.New(serveTarget, repo, mergeOpts...)
		defer func() {
			if err := merger.CleanupCheckpoints(); err != nil {
				logger.Log("[serve] checkpoint cleanup: %v", err)
			}
		}()
		orchOpts = append(orchOpts,
			orchestrator.WithWorktrees(trees),
			orchestrator.WithMergeHandler(merger),
		)
	}

	orch = orchestrator.New(projectID, bus, reg, orchOpts...)

	watcher, err := control.NewSignalWatcher(repo,
		control.OnPause(orch.Pause),
		control.OnResume(orch.Resume),
		control.OnStop(orch.Shutdown),
	)
	if err != nil {
		return fmt.Errorf("signal watcher: %w", err)
	}

	srv := server.New(orch, cfg.Server.Addr,
		server.WithPrometheus(promReg),
		server.WithDebugLog(logger.Log),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthMon.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		defer stop() // orchestrator shutdown ends the whole group
		return orch.Run(gctx)
	})

	for role, count := range workerCounts {
		for i := 0; i < count; i++ {
			id := fmt.Sprintf("%s-%d", role, i+1)
			worker := agent.NewWorker(id, role, bus, reg,
				agent.NewLLMExecutor(llmClient, role, func(prompt, completion int64) {
					budgetMgr.RecordUsage(id, prompt, completion)
					m.AddTokens("prompt", prompt)
					m.AddTokens("completion", completion)
				}),
				workerOptions(trees, serveTarget, logger.Log)...,
			)
			g.Go(func() error { return worker.Run(gctx) })
		}
	}

	color.Green("hive session %s listening on %s (%d workers)", orch.SessionID(), cfg.Server.Addr, totalWorkers(workerCounts))
	if serveGoal != "" {
		tasks, err := orch.SubmitGoal(ctx, serveGoal, nil)
		if err != nil {
			return fmt.Errorf("submit goal: %w", err)
		}
		color.Cyan("goal decomposed into %d tasks", len(tasks))
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	color.Yellow("hive session %s stopped", orch.SessionID())
	return nil
}

func workerOptions(trees *worktree.Manager, target string, debugLog func(string, ...interface{})) []agent.WorkerOption {
	opts := []agent.WorkerOption{agent.WithWorkerDebugLog(debugLog)}
	if trees != nil {
		opts = append(opts, agent.WithWorktrees(trees, target))
	}
	return opts
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func totalWorkers(counts map[models.AgentRole]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
