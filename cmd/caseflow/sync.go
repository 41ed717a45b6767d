package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/remote"
)

func syncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Push local changes to the remote store now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := contextFor(cmd)
			defer cancel()
			sum, err := a.daemon.SyncNow(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
}

func importCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "import",
		GroupID: "sync",
		Short:   "Pull cases and attendance from the remote store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := contextFor(cmd)
			defer cancel()
			sum, err := a.daemon.Import(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show the sync state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := contextFor(cmd)
			defer cancel()
			st, err := a.daemon.Status(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			writeStatus(cmd.OutOrStdout(), st, time.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "server:     %s\n", serverState(ctx, a.cfg.Remote.URL))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeStatus(w io.Writer, st model.SyncStatus, now time.Time) {
	last := "never"
	if st.LastSyncTime != nil {
		last = humanize.RelTime(*st.LastSyncTime, now, "ago", "from now")
	}
	syncing := "no"
	if st.IsSyncing {
		syncing = "yes"
	}
	fmt.Fprintf(w, "status:     %s\n", st.Status)
	fmt.Fprintf(w, "last sync:  %s\n", last)
	fmt.Fprintf(w, "pending:    %s\n", humanize.Comma(int64(st.QueueSize)))
	if st.DeadLetters > 0 {
		fmt.Fprintf(w, "given up:   %s (will not retry until edited)\n", humanize.Comma(int64(st.DeadLetters)))
	}
	fmt.Fprintf(w, "syncing:    %s\n", syncing)
}

// serverHealthTimeout bounds the reachability probe in status.
const serverHealthTimeout = 3 * time.Second

// serverState reports whether the remote store answers its health check.
func serverState(ctx context.Context, url string) string {
	rc, err := remote.New(url, serverHealthTimeout, nil)
	if err != nil {
		return "misconfigured (" + err.Error() + ")"
	}
	if err := rc.Health(ctx); err != nil {
		return "unreachable at " + url
	}
	return "reachable at " + url
}

func historyCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "history",
		GroupID: "sync",
		Short:   "List recent sync runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := contextFor(cmd)
			defer cancel()
			runs, err := a.daemon.History(ctx, limit)
			if err != nil {
				return err
			}
			writeRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs")
	return cmd
}

func writeRuns(w io.Writer, runs []model.SyncRun) {
	for _, r := range runs {
		var counts string
		if r.Direction == model.DirectionPush {
			counts = fmt.Sprintf("synced %d, failed %d, deferred %d", r.Synced, r.Failed, r.Deferred)
		} else {
			counts = fmt.Sprintf("imported %d, updated %d, skipped %d", r.Imported, r.Updated, r.Skipped)
		}
		fmt.Fprintf(w, "%s  %-4s  %-7s  %s  (%s)\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"), r.Direction, r.Status, counts,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		for _, e := range r.Errors {
			fmt.Fprintf(w, "    %s\n", recordErrorLine(e))
		}
	}
}

func recordErrorLine(e model.RecordError) string {
	var b strings.Builder
	b.WriteString(string(e.Table))
	if e.CaseNumber != "" {
		b.WriteString(" " + e.CaseNumber)
	} else if e.RecordID != 0 {
		fmt.Fprintf(&b, " #%d", e.RecordID)
	}
	b.WriteString(": " + e.Error)
	return b.String()
}
