package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/wire"
)

func caseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "case",
		GroupID: "work",
		Short:   "Create, update, book out and close cases",
	}
	cmd.AddCommand(
		caseCreateCmd(a),
		caseUpdateCmd(a),
		caseGetCmd(a, "show <id>", "Show a case", "/cases/%d"),
		caseGetCmd(a, "history <id>", "Show the audit trail of a case", "/cases/%d/history"),
		casePostCmd(a, "close <id>", "Close a case", "/cases/%d/close"),
		casePostCmd(a, "release <id>", "Release a case you hold", "/cases/%d/release"),
		caseBookOutCmd(a),
		&cobra.Command{
			Use:   "current",
			Short: "Show the case you are working on",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var out wire.LocalCase
				return a.call(cmd, http.MethodGet, "/cases/current", nil, &out)
			},
		},
		&cobra.Command{
			Use:   "allocated",
			Short: "List your active cases, high priority and oldest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var out wire.LocalAllocation
				return a.call(cmd, http.MethodGet, "/cases/allocated", nil, &out)
			},
		},
	)
	return cmd
}

// call runs one IPC request and prints the decoded result.
func (a *app) call(cmd *cobra.Command, method, path string, in, out any) error {
	ctx, cancel := contextFor(cmd)
	defer cancel()
	if err := a.daemon.Call(ctx, method, path, nil, in, out); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func caseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad case id %q: %w", arg, errs.ErrValidation)
	}
	return id, nil
}

func caseGetCmd(a *app, use, short, pathf string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := caseID(args[0])
			if err != nil {
				return err
			}
			var out any
			return a.call(cmd, http.MethodGet, fmt.Sprintf(pathf, id), nil, &out)
		},
	}
}

func casePostCmd(a *app, use, short, pathf string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := caseID(args[0])
			if err != nil {
				return err
			}
			var out wire.LocalCase
			return a.call(cmd, http.MethodPost, fmt.Sprintf(pathf, id), nil, &out)
		},
	}
}

func caseBookOutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "book-out <id>",
		Short: "Book a case out to yourself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := caseID(args[0])
			if err != nil {
				return err
			}
			var out wire.LocalBookOut
			if err := a.call(cmd, http.MethodPost, fmt.Sprintf("/cases/%d/book-out", id), nil, &out); err != nil {
				return err
			}
			if out.Conflict {
				return fmt.Errorf("%s: %w", conflictMessage(out), errs.ErrInvalidState)
			}
			return nil
		},
	}
}

func conflictMessage(r wire.LocalBookOut) string {
	switch {
	case r.HeldBy != nil:
		return fmt.Sprintf("case is booked out by user %d, %s", *r.HeldBy, r.Hint)
	case r.Status != "":
		return fmt.Sprintf("case is %s", r.Status)
	}
	return r.Hint
}

func caseCreateCmd(a *app) *cobra.Command {
	var (
		in       wire.NewCase
		assignTo int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a case",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("assign") {
				in.AssignedTo = &assignTo
			}
			var out wire.LocalCase
			return a.call(cmd, http.MethodPost, "/cases", in, &out)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&in.CaseNumber, "number", "n", "", "case number (required, unique)")
	f.StringVar(&in.CustomerName, "customer", "", "customer name (required)")
	f.StringVar(&in.CustomerEmail, "email", "", "customer email")
	f.StringVar(&in.CustomerPhone, "phone", "", "customer phone")
	f.StringVarP(&in.CaseType, "type", "t", "", "case type (required)")
	f.StringVarP(&in.Priority, "priority", "p", "medium", "low, medium or high")
	f.StringVarP(&in.Description, "description", "d", "", "description")
	f.Int64Var(&assignTo, "assign", 0, "assignee user id (default: you)")
	_ = cmd.MarkFlagRequired("number")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// patchFlags maps update flags onto case fields.
var patchFlags = []struct{ name, usage string }{
	{"customer", "customer name"},
	{"email", "customer email"},
	{"phone", "customer phone"},
	{"type", "case type"},
	{"priority", "low, medium or high"},
	{"status", "resolved or closed (book-out and release set the others)"},
	{"description", "description"},
	{"resolution", "resolution"},
}

func caseUpdateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a case; only the flags given are changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := caseID(args[0])
			if err != nil {
				return err
			}
			p, err := patchFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			var out wire.LocalCase
			return a.call(cmd, http.MethodPut, fmt.Sprintf("/cases/%d", id), p, &out)
		},
	}
	for _, f := range patchFlags {
		cmd.Flags().String(f.name, "", f.usage)
	}
	cmd.Flags().Int64("assign", 0, "assignee user id")
	return cmd
}

// patchFromFlags builds a patch from the flags the user actually set, so an
// explicit empty value is kept apart from an absent one.
func patchFromFlags(fs *pflag.FlagSet) (model.CasePatch, error) {
	var p model.CasePatch
	str := func(name string) *string {
		if !fs.Changed(name) {
			return nil
		}
		v, _ := fs.GetString(name)
		return &v
	}
	p.CustomerName = str("customer")
	p.CustomerEmail = str("email")
	p.CustomerPhone = str("phone")
	p.CaseType = str("type")
	p.Description = str("description")
	p.Resolution = str("resolution")
	if v := str("priority"); v != nil {
		pr := model.Priority(*v)
		p.Priority = &pr
	}
	if v := str("status"); v != nil {
		st := model.CaseStatus(*v)
		p.Status = &st
	}
	if fs.Changed("assign") {
		id, _ := fs.GetInt64("assign")
		p.AssignedTo = &id
	}
	if p.Empty() {
		return p, fmt.Errorf("nothing to update: %w", errs.ErrValidation)
	}
	return p, nil
}
