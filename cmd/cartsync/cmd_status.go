package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cartsync/internal/ledger"
	"cartsync/internal/logging"
	"cartsync/internal/notion"
	"cartsync/internal/orchestrator"
	"cartsync/internal/types"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

// statusCmd shows task and ledger counts
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending tasks, today's additions and ledger size",
	RunE:  showStatus,
}

// checkCmd tests the Notion connection
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the Notion connection and required database properties",
	RunE:  runCheck,
}

func showStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	l, err := ledger.Open(cfg.Ledger, logs.Get(logging.CategoryLedger))
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Fprintf(out, "Auto sync:  %s (every %s)\n", onOff(cfg.Sync.AutoSync), cfg.Sync.Interval)
	fmt.Fprintf(out, "Ledger:     %d claimed (%s)\n", l.Len(), cfg.Ledger.Path)

	if !cfg.HasCredentials() {
		warnColor.Fprintln(out, "Notion:     not configured")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := notion.NewClient(notion.Static(cfg.Notion), logs.Get(logging.CategoryNotion))
	st, err := client.Stats(ctx)
	if err != nil {
		errColor.Fprintf(out, "Notion:     %v\n", err)
		return err
	}
	fmt.Fprintf(out, "Pending:    %d\n", st.Pending)
	okColor.Fprintf(out, "Added today: %d\n", st.AddedToday)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := notion.NewClient(notion.Static(cfg.Notion), logs.Get(logging.CategoryNotion))
	missing, err := client.CheckSchema(ctx)
	switch {
	case errors.Is(err, notion.ErrMissingCredentials):
		errColor.Fprintln(out, "✗ Notion API key and database id are required")
		return err
	case errors.Is(err, notion.ErrUnauthorized):
		errColor.Fprintln(out, "✗ Notion rejected the API key")
		return err
	case errors.Is(err, notion.ErrDatabaseNotFound):
		errColor.Fprintln(out, "✗ Database not found (is it shared with the integration?)")
		return err
	case err != nil:
		errColor.Fprintf(out, "✗ %v\n", err)
		return err
	}

	if len(missing) > 0 {
		errColor.Fprintf(out, "✗ Connected, but the database is missing: %s\n", strings.Join(missing, ", "))
		return fmt.Errorf("missing %d required properties", len(missing))
	}
	okColor.Fprintln(out, "✓ Connected; all required properties present")
	return nil
}

// printReport writes a cycle summary.
func printReport(w io.Writer, r orchestrator.CycleReport, totals map[types.Outcome]int) {
	fmt.Fprintf(w, "Cycle %s: %d task(s) in %s\n", r.ID, r.Fetched, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Error != "" {
		errColor.Fprintf(w, "  error: %s\n", r.Error)
	}

	outcomes := make([]string, 0, len(totals))
	for o := range totals {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, name := range outcomes {
		o := types.Outcome(name)
		c := dimColor
		switch o {
		case types.OutcomeCompletedVerified, types.OutcomeCompletedViaFallback:
			c = okColor
		case types.OutcomeFailed, types.OutcomeDataError:
			c = errColor
		}
		c.Fprintf(w, "  %-24s %d\n", name, totals[o])
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
