package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cartsync/internal/ledger"
	"cartsync/internal/logging"
)

// ledgerCmd inspects and repairs the claimed-task ledger
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or repair the claimed-task ledger",
	Long: `The ledger holds the ids of tasks the agent has claimed. A claimed task is
never dispatched again. If the agent stopped in the middle of a task, its id
stays claimed; remove it here to let the next cycle retry it.

Stop a running agent before changing the ledger.`,
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List claimed task ids",
	Args:  cobra.NoArgs,
	RunE:  ledgerList,
}

var ledgerRemoveCmd = &cobra.Command{
	Use:   "remove [task-id...]",
	Short: "Release claims so the tasks are retried",
	Args:  cobra.MinimumNArgs(1),
	RunE:  ledgerRemove,
}

var ledgerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Release every claim",
	Args:  cobra.NoArgs,
	RunE:  ledgerClear,
}

func openLedger() (*ledger.Ledger, error) {
	return ledger.Open(cfg.Ledger, logs.Get(logging.CategoryLedger))
}

func ledgerList(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	out := cmd.OutOrStdout()
	ids := l.List()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No claimed tasks")
		return nil
	}
	for _, id := range ids {
		if at, ok := l.ClaimedAt(id); ok {
			fmt.Fprintf(out, "%s  %s\n", id, dimColor.Sprint(at.Local().Format(time.DateTime)))
			continue
		}
		fmt.Fprintln(out, id)
	}
	return nil
}

func ledgerRemove(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	out := cmd.OutOrStdout()
	for _, id := range args {
		if !l.Has(id) {
			warnColor.Fprintf(out, "%s: not claimed\n", id)
			continue
		}
		l.Remove(id)
		okColor.Fprintf(out, "%s: released\n", id)
	}
	return nil
}

func ledgerClear(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	out := cmd.OutOrStdout()
	n := l.Len()
	if n == 0 {
		fmt.Fprintln(out, "No claimed tasks")
		return nil
	}

	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		fmt.Fprintf(out, "Release %d claim(s)? Tasks still pending in Notion will be added to the cart again. [y/N] ", n)
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	l.Clear()
	okColor.Fprintf(out, "Released %d claim(s)\n", n)
	return nil
}
