package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/and161185/caseflow/internal/convert"
	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/remote"
	"github.com/and161185/caseflow/internal/repository/sqlite"
	"github.com/and161185/caseflow/internal/session"
	"github.com/and161185/caseflow/internal/store"
	"github.com/and161185/caseflow/internal/wire"
)

func loginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the remote store and save the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				return fmt.Errorf("need --username: %w", errs.ErrValidation)
			}
			if password == "" {
				p, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				password = p
			}
			sess, err := a.login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s), session valid until %s\n",
				sess.Username, sess.Role, sess.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

// readPassword prompts without echo on a terminal and reads one line otherwise.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		return string(b), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// login exchanges credentials for a token, saves the session and caches the
// user in the local store.
func (a *app) login(ctx context.Context, username, password string) (session.Session, error) {
	rc, err := remote.New(a.cfg.Remote.URL, a.cfg.Remote.Timeout, nil)
	if err != nil {
		return session.Session{}, err
	}
	lr, err := rc.Login(ctx, username, password)
	if err != nil {
		return session.Session{}, err
	}
	sess, err := sessionFromLogin(lr)
	if err != nil {
		return session.Session{}, err
	}
	if err := a.sessions.Save(sess); err != nil {
		return session.Session{}, fmt.Errorf("save session: %w", err)
	}

	db, err := store.Open(ctx, a.cfg.DatabasePath(), nil)
	if err != nil {
		return sess, err
	}
	defer func() { _ = db.Close() }()
	if err := db.Migrate(ctx); err != nil {
		return sess, err
	}
	return sess, sqlite.NewUserRepo(db).Upsert(ctx, convert.FromWireUser(lr.User))
}

// sessionFromLogin reads identity from the token and fills gaps from the
// response body.
func sessionFromLogin(lr wire.LoginResponse) (session.Session, error) {
	sess, err := session.FromToken(lr.Token)
	if err != nil {
		if lr.User.ID == 0 {
			return session.Session{}, err
		}
		sess = session.Session{UserID: lr.User.ID, Token: lr.Token}
	}
	if sess.Username == "" {
		sess.Username = lr.User.Username
	}
	if sess.Role == "" {
		sess.Role = model.Role(lr.User.Role)
	}
	if !lr.ExpiresAt.IsZero() {
		sess.ExpiresAt = lr.ExpiresAt
	}
	return sess, nil
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.sessions.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the saved session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.sessions.Load()
			if s.Token == "" {
				return err
			}
			state := "valid"
			if err != nil {
				state = "expired"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d, %s), session %s until %s\n",
				s.Username, s.UserID, s.Role, state, s.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
}
