package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-strategy/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-strategy/internal/app"
	"github.com/odyssey-erp/odyssey-strategy/internal/auth"
	"github.com/odyssey-erp/odyssey-strategy/internal/platform/db"
)

const usage = `usage: odyssey [command]

Without a command the HTTP server starts.

commands:
  migrate [up | down N | steps N | version]
  users create --email E --password P --role R [--allow-ip CIDR ...] [--json]
  users enroll-mfa --email E
  jobs trigger session:sweep
  jobs stats
`

func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	stdout, stderr := io.Writer(os.Stdout), io.Writer(os.Stderr)
	switch args[0] {
	case "migrate":
		return cli.MigrateCommand(cfg.PGDSN, args[1:], stdout, stderr)
	case "users":
		return usersCommand(ctx, cfg, logger, args[1:], stdout, stderr)
	case "jobs":
		return jobsCommand(ctx, cfg, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func usersCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet("users "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "initial password")
	role := fs.String("role", "viewer", "viewer, analyst, manager, admin or superuser")
	jsonOut := fs.Bool("json", false, "print JSON")
	var allowed stringList
	fs.Var(&allowed, "allow-ip", "allowed address or CIDR, repeatable")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	users := cli.NewUsersCLI(auth.NewService(auth.NewRepository(pool), nil, cfg.MFAIssuer))

	switch args[0] {
	case "create":
		return users.CreateCommand(ctx, cli.CreateUserOptions{
			Email:      *email,
			Password:   *password,
			Role:       *role,
			AllowedIPs: allowed,
			JSONOutput: *jsonOut,
			Stdout:     stdout,
			Stderr:     stderr,
		})
	case "enroll-mfa":
		return users.EnrollMFACommand(ctx, *email, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "users: unknown action %q\n", args[0])
		return 2
	}
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	helper := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = helper.Close() }()
	return cli.JobsCommand(ctx, helper, args, stdout, stderr)
}
