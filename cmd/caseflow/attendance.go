package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/wire"
)

const dayLayout = "2006-01-02"

func attendanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "attendance",
		Aliases: []string{"att"},
		GroupID: "work",
		Short:   "Check in and out, track breaks",
	}
	step := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var out wire.Attendance
				return a.call(cmd, http.MethodPost, path, nil, &out)
			},
		}
	}
	brk := &cobra.Command{Use: "break", Short: "Start or end a break"}
	brk.AddCommand(
		step("start", "Start a break", "/attendance/break/start"),
		step("end", "End the current break", "/attendance/break/end"),
	)
	cmd.AddCommand(
		step("check-in", "Check in for today", "/attendance/check-in"),
		step("check-out", "Check out for today", "/attendance/check-out"),
		brk,
		attendanceTodayCmd(a),
		attendanceListCmd(a),
	)
	return cmd
}

func attendanceTodayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show today's attendance record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := contextFor(cmd)
			defer cancel()
			var out *wire.Attendance
			if err := a.daemon.Call(ctx, http.MethodGet, "/attendance/today", nil, nil, &out); err != nil {
				return err
			}
			if out == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "not checked in")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func attendanceListCmd(a *app) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List attendance records",
		Long: `List your attendance records, newest first.

--from and --to take YYYY-MM-DD or a phrase such as "yesterday" or
"last monday"; both bounds are inclusive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			q := url.Values{}
			for name, raw := range map[string]string{"from": from, "to": to} {
				day, err := parseDay(raw, now)
				if err != nil {
					return err
				}
				if day != "" {
					q.Set(name, day)
				}
			}
			ctx, cancel := contextFor(cmd)
			defer cancel()
			var out []wire.Attendance
			if err := a.daemon.Call(ctx, http.MethodGet, "/attendance", q, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day")
	cmd.Flags().StringVar(&to, "to", "", "last day")
	return cmd
}

// parseDay turns a date flag into YYYY-MM-DD. Empty input stays empty.
func parseDay(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if d, err := time.ParseInLocation(dayLayout, s, now.Location()); err == nil {
		return d.Format(dayLayout), nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognised date %q: %w", s, errs.ErrValidation)
	}
	return r.Time.Format(dayLayout), nil
}
