package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/junghoonshin3/bemypet/internal/bootstrap"
	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/service"
)

const (
	defaultLoginTimeout     = 5 * time.Minute
	defaultSettleTimeout    = 30 * time.Second
	defaultMigrationTimeout = 5 * time.Minute
	defaultHistoryLimit     = 20
	defaultPruneAge         = 30 * 24 * time.Hour
)

var errNotSignedIn = errors.New("not signed in")

type loginOptions struct {
	AllAccounts bool
	Timeout     time.Duration
}

type deleteOptions struct {
	Yes bool
}

type statusOptions struct {
	JSON    bool
	Profile string
}

type watchOptions struct {
	Timeout     time.Duration
	MetricsAddr string
}

type historyOptions struct {
	Limit int
	JSON  bool
}

type pruneOptions struct {
	OlderThan time.Duration
	Yes       bool
}

type migrateOptions struct {
	Timeout time.Duration
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func parseLoginFlags(args []string) (loginOptions, error) {
	opts := loginOptions{}
	fs := newFlagSet("login")
	fs.BoolVar(&opts.AllAccounts, "all-accounts", false, "Offer every account on the device, not only known ones")
	fs.DurationVar(&opts.Timeout, "timeout", defaultLoginTimeout, "How long to wait for the browser sign-in")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.Timeout <= 0 {
		return opts, errors.New("timeout must be positive")
	}
	return opts, nil
}

func parseDeleteFlags(args []string) (deleteOptions, error) {
	opts := deleteOptions{}
	fs := newFlagSet("delete-account")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseStatusFlags(args []string) (statusOptions, error) {
	opts := statusOptions{}
	fs := newFlagSet("status")
	fs.BoolVar(&opts.JSON, "json", false, "Print the status as JSON")
	fs.StringVar(&opts.Profile, "profile", "", "JMESPath expression evaluated against the profile (e.g. name)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseWatchFlags(args []string, defaultAddr string) (watchOptions, error) {
	opts := watchOptions{}
	fs := newFlagSet("watch")
	fs.DurationVar(&opts.Timeout, "timeout", 0, "Stop after this long (0 waits for an interrupt)")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", defaultAddr, "Serve Prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.Timeout < 0 {
		return opts, errors.New("timeout cannot be negative")
	}
	return opts, nil
}

func parseHistoryFlags(args []string) (historyOptions, error) {
	opts := historyOptions{}
	fs := newFlagSet("history")
	fs.IntVar(&opts.Limit, "limit", defaultHistoryLimit, "Maximum number of transitions to list")
	fs.BoolVar(&opts.JSON, "json", false, "Print transitions as JSON")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.Limit <= 0 {
		return opts, errors.New("limit must be positive")
	}
	return opts, nil
}

func parsePruneFlags(args []string) (pruneOptions, error) {
	opts := pruneOptions{}
	fs := newFlagSet("prune")
	fs.DurationVar(&opts.OlderThan, "older-than", defaultPruneAge, "Delete transitions older than this")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.OlderThan <= 0 {
		return opts, errors.New("older-than must be positive")
	}
	return opts, nil
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	opts := migrateOptions{}
	fs := newFlagSet("migrate")
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum time to wait for migrations to complete")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.Timeout <= 0 {
		return opts, errors.New("timeout must be positive")
	}
	return opts, nil
}

// settle waits for the store to restore or reject the persisted session.
func settle(ctx context.Context, rt *bootstrap.Runtime) (domainauth.Session, error) {
	settleCtx, cancel := context.WithTimeout(ctx, defaultSettleTimeout)
	defer cancel()
	sess, err := rt.Agent.Sessions.Settled(settleCtx)
	if err != nil {
		return sess, fmt.Errorf("wait for session: %w", err)
	}
	return sess, nil
}

// waitSignedOut blocks until the store has observed the explicit sign-out.
func waitSignedOut(ctx context.Context, rt *bootstrap.Runtime) error {
	waitCtx, cancel := context.WithTimeout(ctx, defaultSettleTimeout)
	defer cancel()
	_, err := rt.Agent.Sessions.WaitFor(waitCtx, func(s domainauth.Session) bool {
		return domainauth.SessionsEqual(s, domainauth.NoAuthenticated{IsSignOut: true})
	})
	if err != nil {
		return fmt.Errorf("wait for sign-out: %w", err)
	}
	return nil
}

func runLogin(cmdCtx *commandContext, args []string) error {
	opts, err := parseLoginFlags(args)
	if err != nil {
		return err
	}
	rt, release, err := cmdCtx.runtime(false)
	if err != nil {
		return err
	}
	defer release()

	if _, settleErr := settle(cmdCtx.Ctx, rt); settleErr != nil {
		return settleErr
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	if opts.AllAccounts {
		err = rt.Agent.Login.SignInAllAccounts(ctx)
	} else {
		err = rt.Agent.Login.SignIn(ctx)
	}
	outcome := service.Outcome(err)
	if printErr := writef(cmdCtx.Out, "Sign-in: %s\n", outcome); printErr != nil {
		return fmt.Errorf("print sign-in outcome: %w", printErr)
	}
	if domainauth.IsCancelled(err) {
		return nil
	}
	if err != nil {
		return err
	}

	sess, err := rt.Agent.Sessions.WaitFor(ctx, func(s domainauth.Session) bool {
		_, ok := s.(domainauth.Authenticated)
		return ok
	})
	if err != nil {
		return fmt.Errorf("wait for authenticated session: %w", err)
	}
	return printSession(cmdCtx.Out, sess)
}

func runLogout(cmdCtx *commandContext, args []string) error {
	if err := newFlagSet("logout").Parse(args); err != nil {
		return err
	}
	rt, release, err := cmdCtx.runtime(false)
	if err != nil {
		return err
	}
	defer release()

	sess, err := settle(cmdCtx.Ctx, rt)
	if err != nil {
		return err
	}
	if _, ok := sess.(domainauth.Authenticated); !ok {
		return writeln(cmdCtx.Out, "Already signed out")
	}
	if err := rt.Agent.Account.SignOut(cmdCtx.Ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	if err := waitSignedOut(cmdCtx.Ctx, rt); err != nil {
		return err
	}
	return writeln(cmdCtx.Out, "Signed out")
}

func runDeleteAccount(cmdCtx *commandContext, args []string) error {
	opts, err := parseDeleteFlags(args)
	if err != nil {
		return err
	}
	rt, release, err := cmdCtx.runtime(false)
	if err != nil {
		return err
	}
	defer release()

	if _, settleErr := settle(cmdCtx.Ctx, rt); settleErr != nil {
		return settleErr
	}
	acct, ok := rt.Agent.Account.Account()
	if !ok {
		return errNotSignedIn
	}
	if !opts.Yes {
		prompt := fmt.Sprintf("This permanently deletes account %s (%s).", acct.UserID, acct.Email)
		if confirmErr := confirmAction(cmdCtx.In, cmdCtx.Out, prompt); confirmErr != nil {
			return confirmErr
		}
	}
	if err := rt.Agent.Identity.DeleteAccount(cmdCtx.Ctx, acct.UserID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if err := waitSignedOut(cmdCtx.Ctx, rt); err != nil {
		return err
	}
	return writef(cmdCtx.Out, "Deleted account %s\n", acct.UserID)
}

type statusView struct {
	State     string    `json:"state"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Profile   any       `json:"profile,omitempty"`
}

func newStatusView(sess domainauth.Session) statusView {
	view := statusView{State: domainauth.Kind(sess)}
	if a, ok := sess.(domainauth.Authenticated); ok {
		view.UserID = a.UserID
		view.Email = a.Email
		view.ExpiresAt = a.ExpiresAt.UTC()
	}
	return view
}

func runStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseStatusFlags(args)
	if err != nil {
		return err
	}
	rt, release, err := cmdCtx.runtime(false)
	if err != nil {
		return err
	}
	defer release()

	sess, err := settle(cmdCtx.Ctx, rt)
	if err != nil {
		return err
	}
	view := newStatusView(sess)
	if opts.Profile != "" && view.UserID != "" {
		value, valueErr := rt.Agent.Account.ProfileValue(opts.Profile)
		if valueErr != nil {
			return valueErr
		}
		view.Profile = value
	}

	if opts.JSON {
		enc := json.NewEncoder(cmdCtx.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	if err := printSession(cmdCtx.Out, sess); err != nil {
		return err
	}
	if opts.Profile != "" && view.UserID != "" {
		return writef(cmdCtx.Out, "Profile %s: %v\n", opts.Profile, view.Profile)
	}
	return nil
}

func printSession(w io.Writer, sess domainauth.Session) error {
	view := newStatusView(sess)
	if err := writef(w, "State: %s\n", view.State); err != nil {
		return err
	}
	if view.UserID == "" {
		return nil
	}
	if err := writef(w, "User: %s\n", view.UserID); err != nil {
		return err
	}
	if view.Email != "" {
		if err := writef(w, "Email: %s\n", view.Email); err != nil {
			return err
		}
	}
	return writef(w, "Expires: %s\n", view.ExpiresAt.Format(time.RFC3339))
}

func runWatch(cmdCtx *commandContext, args []string) error {
	opts, err := parseWatchFlags(args, cmdCtx.Config.Observability.Metrics.PrometheusAddr)
	if err != nil {
		return err
	}
	rt, release, err := cmdCtx.runtime(opts.MetricsAddr != "")
	if err != nil {
		return err
	}
	defer release()

	ctx := cmdCtx.Ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return streamSessions(gctx, cmdCtx.Out, rt)
	})
	if opts.MetricsAddr != "" && rt.Metrics.Prometheus != nil {
		g.Go(func() error {
			server, addr, startErr := bootstrap.StartMetricsServer(gctx, opts.MetricsAddr, rt.Metrics.Prometheus.Handler(), cmdCtx.Logger)
			if startErr != nil {
				return startErr
			}
			if printErr := writef(cmdCtx.Out, "Serving metrics on http://%s/metrics\n", addr); printErr != nil {
				cmdCtx.Logger.Warn("print metrics address failed", "error", printErr)
			}
			<-gctx.Done()
			return bootstrap.ShutdownMetricsServer(gctx, server, cmdCtx.Logger)
		})
	}
	return g.Wait()
}

// streamSessions prints one line per session change until ctx ends or the store closes.
func streamSessions(ctx context.Context, w io.Writer, rt *bootstrap.Runtime) error {
	unsubscribe, ch := rt.Agent.Sessions.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sess, ok := <-ch:
			if !ok {
				return nil
			}
			line := domainauth.Describe(sess)
			if err := writef(w, "%s %s\n", time.Now().UTC().Format(time.RFC3339), line); err != nil {
				return fmt.Errorf("print session: %w", err)
			}
		}
	}
}

func runHistory(cmdCtx *commandContext, args []string) error {
	opts, err := parseHistoryFlags(args)
	if err != nil {
		return err
	}
	rt, release, err := cmdCtx.runtime(false)
	if err != nil {
		return err
	}
	defer release()

	if rt.Agent.History == nil {
		return errors.New("session history is not configured")
	}
	events, err := rt.Agent.History.Recent(cmdCtx.Ctx, opts.Limit)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(cmdCtx.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	if len(events) == 0 {
		return writeln(cmdCtx.Out, "(no transitions recorded)")
	}
	tw := tabwriter.NewWriter(cmdCtx.Out, 0, 0, 2, ' ', 0)
	if err := writef(tw, "OCCURRED\tKIND\tUSER\tSIGN OUT\n"); err != nil {
		return err
	}
	for _, ev := range events {
		if err := writef(tw, "%s\t%s\t%s\t%t\n", ev.OccurredAt.UTC().Format(time.RFC3339), ev.Kind, ev.UserID, ev.SignOut); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runPrune(cmdCtx *commandContext, args []string) error {
	opts, err := parsePruneFlags(args)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-opts.OlderThan)
	if !opts.Yes {
		prompt := fmt.Sprintf("This deletes session transitions recorded before %s.", cutoff.UTC().Format(time.RFC3339))
		if confirmErr := confirmAction(cmdCtx.In, cmdCtx.Out, prompt); confirmErr != nil {
			return confirmErr
		}
	}

	rt, release, err := cmdCtx.runtime(false)
	if err != nil {
		return err
	}
	defer release()

	if rt.Agent.History == nil {
		return errors.New("session history is not configured")
	}
	n, err := rt.Agent.History.Prune(cmdCtx.Ctx, cutoff)
	if err != nil {
		return err
	}
	return writef(cmdCtx.Out, "Pruned %d transitions\n", n)
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	applied, err := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return writeln(cmdCtx.Out, "No migrations to apply")
	}
	for _, name := range applied {
		if err := writef(cmdCtx.Out, "Applied %s\n", name); err != nil {
			return err
		}
	}
	return nil
}
