// Command caseflow is the offline-first desktop client: a daemon that owns the
// local store and the sync engine, plus one-shot commands that talk to it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/caseflow/internal/config"
	"github.com/and161185/caseflow/internal/ipc"
	"github.com/and161185/caseflow/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// app is the state shared by every subcommand, filled in before it runs.
type app struct {
	configPath string
	ipcAddr    string

	loader   *config.Loader
	cfg      config.Config
	sessions *session.FileStore
	daemon   *ipc.Client
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	l, cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.ipcAddr != "" {
		cfg.IPC.Addr = a.ipcAddr
	}
	a.loader, a.cfg = l, cfg
	a.sessions = session.NewFileStore(cfg.DataDir)
	a.daemon = ipc.NewClient(cfg.IPC.Addr, cfg.Remote.Timeout*6)
	return nil
}

// loadSession adapts the session file to the engine and IPC session source.
func (a *app) loadSession() (*session.Session, error) {
	s, err := a.sessions.Load()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "caseflow",
		Short:             "Offline-first case tracking and attendance",
		Version:           fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/caseflow/config.yaml)")
	root.PersistentFlags().StringVar(&a.ipcAddr, "ipc", "", "daemon address, overrides ipc.addr")

	root.AddGroup(
		&cobra.Group{ID: "daemon", Title: "Daemon:"},
		&cobra.Group{ID: "work", Title: "Cases and attendance:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
	)
	root.AddCommand(
		runCmd(a),
		loginCmd(a), logoutCmd(a), whoamiCmd(a),
		caseCmd(a), attendanceCmd(a),
		syncCmd(a), importCmd(a), statusCmd(a), historyCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// requestTimeout bounds one-shot calls to the daemon.
const requestTimeout = 2 * time.Minute

func contextFor(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}
