package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blissfulldev/hitld/internal/config"
	"github.com/blissfulldev/hitld/internal/logging"
	"github.com/blissfulldev/hitld/internal/orchestrator"
	"github.com/blissfulldev/hitld/internal/session"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted pipeline walkthrough",
	Long: `Demo drives one session through the pipeline in-process: the first
agent asks a clarification, the answer is recorded, every agent completes,
and the chosen next action is printed at each stage.`,
	RunE: runDemo,
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// The demo narrates to stdout; keep the log quiet.
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "console"
	cfg.Events.NATSURL = ""
	cfg.Metrics.Enabled = false
	cfg.Assist.Enabled = false

	logger, err := logging.NewLogger(&logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	const sessionID = "demo"
	out := cmd.OutOrStdout()

	step := func(label string) error {
		action, err := a.orch.DetermineNextAction(ctx, sessionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-28s -> %s\n", label, describeAction(action))
		return nil
	}

	if err := step("fresh session"); err != nil {
		return err
	}

	req := session.NewClarificationRequest(session.AgentCore, "Which region should resources deploy to?", "initial planning")
	req.Options = []string{"eu-west-1", "us-east-1"}
	if _, err := a.orch.AddClarificationRequest(ctx, sessionID, req); err != nil {
		return err
	}
	if err := step("clarification asked"); err != nil {
		return err
	}

	resp := session.NewClarificationResponse(req.ID, "eu-west-1")
	if err := a.orch.AddClarificationResponse(ctx, sessionID, resp); err != nil {
		return err
	}
	if err := step("clarification answered"); err != nil {
		return err
	}

	for _, agent := range session.PipelineOrder() {
		if err := a.orch.SetCurrentAgent(ctx, sessionID, agent, ""); err != nil {
			return err
		}
		if err := a.orch.MarkAgentCompleted(ctx, sessionID, agent); err != nil {
			return err
		}
		if err := step(fmt.Sprintf("%s completed", agent)); err != nil {
			return err
		}
	}

	summary, err := a.orch.Guidance(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s\n", summary)

	report, err := a.orch.PerformStateReconciliation(ctx, sessionID, nil)
	if err != nil {
		return err
	}
	logger.Debug("final reconciliation", zap.Bool("success", report.Success))
	return nil
}

// describeAction renders a workflow action for the demo output. The switch
// is exhaustive over the closed variant set.
func describeAction(action orchestrator.WorkflowAction) string {
	switch v := action.(type) {
	case orchestrator.RunAgent:
		if v.StepID != "" {
			return fmt.Sprintf("run %s (step %s)", v.Agent, v.StepID)
		}
		return fmt.Sprintf("run %s", v.Agent)
	case orchestrator.AwaitClarification:
		return fmt.Sprintf("await %d clarification(s)", len(v.Pending))
	case orchestrator.AwaitApproval:
		if v.Timeout > 0 {
			return fmt.Sprintf("await approval for %s (auto after %s)", v.Next, v.Timeout)
		}
		return fmt.Sprintf("await approval for %s", v.Next)
	case orchestrator.Reconcile:
		return fmt.Sprintf("reconcile: %s", v.Reason)
	case orchestrator.Complete:
		return "pipeline complete"
	default:
		return fmt.Sprintf("unknown action %T", action)
	}
}
