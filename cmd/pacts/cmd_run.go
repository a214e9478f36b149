package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/coordinator"
	"github.com/example/pacts/internal/driver"
	"github.com/example/pacts/internal/model"
	"github.com/example/pacts/internal/persistence"
)

var (
	planPath string
	startURL string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "execute a plan of steps against a URL",
	RunE:  runPlan,
}

func init() {
	runCmd.Flags().StringVar(&planPath, "plan", "", "path to a JSON file containing a []model.Step plan (required)")
	runCmd.Flags().StringVar(&startURL, "url", "", "starting URL (required)")
	runCmd.MarkFlagRequired("plan")
	runCmd.MarkFlagRequired("url")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Workspace = ws

	steps, err := loadPlan(planPath)
	if err != nil {
		return err
	}
	intents := make([]model.Intent, len(steps))
	for i, s := range steps {
		intents[i] = model.Intent{Step: s}
	}

	if err := os.MkdirAll(filepath.Join(ws, ".pacts"), 0o755); err != nil {
		return fmt.Errorf("create .pacts directory: %w", err)
	}

	store, err := persistence.Open(filepath.Join(ws, ".pacts", "runs.db"))
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	drv := driver.New(cfg)
	if err := drv.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer drv.Shutdown(context.Background())

	origin := originOf(startURL)
	coord := coordinator.New(cfg, drv, origin, ws, store)
	defer coord.Close()

	run, err := coord.Run(ctx, intents, startURL)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	logger.Info("run finished",
		zap.String("req_id", run.ReqID),
		zap.String("verdict", string(run.Verdict)),
		zap.String("failure", string(run.Failure)),
		zap.Int("heal_events", len(run.HealEvents)),
	)

	fmt.Printf("req_id=%s verdict=%s\n", run.ReqID, run.Verdict)
	if run.Verdict != model.VerdictPass {
		fmt.Printf("failure=%s detail=%s\n", run.Failure, run.RCADetail)
		return fmt.Errorf("run did not pass")
	}
	return nil
}

func loadPlan(path string) ([]model.Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	var steps []model.Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return steps, nil
}

func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	wd, _ := os.Getwd()
	return wd
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
