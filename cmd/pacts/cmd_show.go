package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/pacts/internal/persistence"
)

var runShowCmd = &cobra.Command{
	Use:   "show <req_id>",
	Short: "print a persisted run's verdict, heal events, and executed steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	reqID := args[0]
	ws := resolveWorkspace()

	store, err := persistence.Open(filepath.Join(ws, ".pacts", "runs.db"))
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer store.Close()

	rec, err := store.Get(reqID)
	if err != nil {
		return err
	}

	fmt.Printf("req_id:   %s\n", rec.ReqID)
	fmt.Printf("verdict:  %s\n", rec.Verdict)
	if rec.Failure != "" {
		fmt.Printf("failure:  %s\n", rec.Failure)
	}
	if rec.RCADetail != "" {
		fmt.Printf("rca:      %s\n", rec.RCADetail)
	}
	if rec.BlockedSignature != "" {
		fmt.Printf("blocked:  %s\n", rec.BlockedSignature)
	}
	fmt.Printf("started:  %s\n", rec.StartedAt.Format("2006-01-02T15:04:05"))
	if !rec.EndedAt.IsZero() {
		fmt.Printf("ended:    %s\n", rec.EndedAt.Format("2006-01-02T15:04:05"))
	}

	fmt.Printf("\nexecuted steps (%d):\n", len(rec.ExecutedSteps))
	for _, s := range rec.ExecutedSteps {
		fmt.Printf("  [%d] %-20s action=%-8s selector=%s strategy=%s\n", s.StepIdx, s.Label, s.Action, s.Selector, s.Strategy)
	}

	fmt.Printf("\nheal events (%d):\n", len(rec.HealEvents))
	for _, h := range rec.HealEvents {
		fmt.Printf("  round=%d step=%d failure=%-12s success=%-5v %s -> %s\n", h.Round, h.StepIdx, h.FailureKind, h.Success, h.OldSelector, h.NewSelector)
	}
	return nil
}
