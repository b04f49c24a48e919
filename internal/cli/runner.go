// Package cli routes subcommands to the resource views and prints their outcome.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/idilsaglam/muchtodo/internal/config"
	"github.com/idilsaglam/muchtodo/internal/credstore"
	"github.com/idilsaglam/muchtodo/internal/notify"
	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/session"
	"github.com/idilsaglam/muchtodo/internal/tui"
	"github.com/idilsaglam/muchtodo/internal/ui"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1 // a request failed
	ExitUsage   = 2 // bad arguments, invalid input or not logged in
)

// Env is everything a command runs against. main wires the real one; tests point it at a fake backend.
type Env struct {
	Config  *config.Config
	API     resource.Gateway
	Session *session.Store
	Boot    *session.Bootstrapper
	Jar     *credstore.Jar
	Printer *ui.Printer
	In      io.Reader
	Logger  *log.Logger

	// RunTUI starts the terminal UI; tui.Run when nil.
	RunTUI func(context.Context, tui.Options) error
	// NewTicker drives health --watch; the wall clock when nil.
	NewTicker func(time.Duration) resource.Ticker
}

type usageError struct{ msg, hint string }

func (e usageError) Error() string { return e.msg }

func usage(format string, a ...any) error { return usageError{msg: fmt.Sprintf(format, a...)} }

type runner struct {
	Env
	deps     resource.Deps
	prompt   *prompter
	notified bool // an error was already printed through the notifier
}

// Interactive reports whether args start the full-screen UI, which must not log to the terminal.
func Interactive(args []string) bool {
	return len(args) > 0 && (args[0] == "tui" || args[0] == "ls")
}

// Run dispatches subcommands and returns an exit code (0 ok, 1 error, 2 usage).
func Run(ctx context.Context, args []string, env Env) int {
	p := env.Printer
	if len(args) == 0 {
		PrintHelp(p.Out())
		return ExitUsage
	}
	if env.Logger == nil {
		env.Logger = log.New(io.Discard)
	}
	if env.RunTUI == nil {
		env.RunTUI = tui.Run
	}
	if env.NewTicker == nil {
		env.NewTicker = resource.NewTicker
	}
	r := &runner{Env: env, prompt: newPrompter(env.In, p.Out())}
	r.deps = resource.Deps{
		API:     env.API,
		Session: env.Session,
		Logger:  env.Logger,
		Notify: notify.Func(func(n notify.Notification) {
			if n.Level == notify.LevelError {
				r.notified = true
				p.Fail(n.Message)
				return
			}
			p.OK(n.Message)
		}),
	}

	cmd, a := args[0], args[1:]
	var err error
	switch cmd {
	case "help", "-h", "--help":
		PrintHelp(p.Out())
		return ExitOK
	case "login":
		err = r.login(ctx, a)
	case "logout":
		err = r.logout(ctx)
	case "register":
		err = r.register(ctx)
	case "whoami":
		err = r.whoami(ctx)
	case "status":
		err = r.status(ctx)
	case "ls":
		err = r.tui(ctx, "/todos")
	case "tui":
		path := "/"
		if len(a) > 0 {
			path = a[0]
		}
		err = r.tui(ctx, path)
	case "list":
		err = r.list(ctx, a)
	case "add":
		err = r.add(ctx, a)
	case "done":
		err = r.withIndex(ctx, "done", a, r.toggle)
	case "rm":
		err = r.withIndex(ctx, "rm", a, r.remove)
	case "edit":
		err = r.edit(ctx, a)
	case "profile":
		err = r.profile(ctx, a)
	case "passwd":
		err = r.passwd(ctx)
	case "delete-account":
		err = r.deleteAccount(ctx, a)
	case "health":
		err = r.health(ctx, a)
	default:
		p.Fail("unknown subcommand: " + cmd)
		fmt.Fprintln(p.Err())
		PrintHelp(p.Err())
		return ExitUsage
	}
	return r.report(err)
}

// report prints err unless the notifier already did and maps it to an exit code.
func (r *runner) report(err error) int {
	p := r.Printer
	var uerr usageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &uerr):
		p.Fail(uerr.msg)
		if uerr.hint != "" {
			p.Hint(uerr.hint)
		}
		return ExitUsage
	case errors.Is(err, resource.ErrSkipped):
		p.Fail("not logged in")
		p.Hint("Hint: run `muchtodo login`")
		return ExitUsage
	}
	if errs, ok := validate.AsErrors(err); ok {
		if !r.notified {
			for _, fe := range errs {
				p.Fail(fe.Message)
			}
		}
		return ExitUsage
	}
	if errors.Is(err, context.Canceled) {
		return ExitFailure
	}
	if !r.notified {
		p.Fail(resource.Message(err))
	}
	r.Logger.Debug("command failed", "err", err)
	return ExitFailure
}

// requireUser resolves the session and fails with ErrSkipped when nobody is logged in.
func (r *runner) requireUser(ctx context.Context) error {
	r.Boot.Run(ctx)
	if !r.Session.IsAuthenticated() {
		return resource.ErrSkipped
	}
	return nil
}

func newFlags(name string, w io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("muchtodo "+name, flag.ContinueOnError)
	fs.SetOutput(w)
	return fs
}

func parseIndex(cmd, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, usage("%s: not a number: %s", cmd, s)
	}
	return n, nil
}

func PrintHelp(w io.Writer) {
	fmt.Fprint(w, `muchtodo - terminal client for MuchToDo

Usage:
  muchtodo [flags] <subcommand> [args]

Account:
  login [username]         Sign in (prompts for the password)
  logout                   Sign out and forget the stored session
  register                 Create an account
  whoami                   Show the signed-in user
  status                   Show where the session comes from and whether it is valid
  profile [--first F] [--last L] [--username U]
                           Show or update your profile
  passwd                   Change your password
  delete-account [--yes]   Permanently delete your account

Tasks:
  ls                       Interactive task list
  list                     Print tasks (--group to split pending/done)
  add [--desc D] <title...>
                           Add a task (title can be multiple words)
  done <index>             Toggle done for the task at 1-based index
  edit <index> [--title T] [--desc D]
                           Change a task
  rm <index>               Remove the task at 1-based index

Other:
  health [--watch]         Backend health (database and cache)
  tui [path]               Full terminal UI, optionally starting at a path such as /profile

Flags:
  --api URL  --config FILE  --theme classic|neon|mono  --no-color
  --log-level debug|info|warn|error  --log-format text|json|logfmt  --group

Examples:
  muchtodo login alice
  muchtodo add "Buy milk"
  muchtodo list --group
  muchtodo done 2
`)
}

func joinArgs(a []string) string { return strings.TrimSpace(strings.Join(a, " ")) }
