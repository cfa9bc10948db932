package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tinoosan/ptguard/internal/app"
	"github.com/tinoosan/ptguard/internal/config"
	"github.com/tinoosan/ptguard/internal/logging"
	"github.com/urfave/cli"
)

var version = "dev"

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Usage:  "path to the config file (default: search ., ./config, /etc/ptguard)",
		EnvVar: "PTGUARD_CONFIG",
	},
}

// Execute runs the command line in args, writing command output to out.
func Execute(args []string, out io.Writer) error {
	a := cli.App{
		Name:      "ptguard",
		HelpName:  "ptguard",
		Usage:     "automates private tracker promotions",
		UsageText: "ptguard [--config file] <command> [arguments...]",
		Version:   version,
		Writer:    out,
		Flags:     globalFlags,
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "run the scheduler and the operator API",
				Action: serve,
			},
			{
				Name:      "run",
				Usage:     "run one job now and exit",
				ArgsUsage: "<job>",
				Action:    runJob,
			},
			{
				Name:   "jobs",
				Usage:  "list the job names accepted by run",
				Action: listJobs,
			},
			{
				Name:   "login",
				Usage:  "log in to a tracker and store the session",
				Flags:  loginFlags,
				Action: login,
			},
			{
				Name:  "rules",
				Usage: "inspect acquisition rules",
				Subcommands: []cli.Command{
					{
						Name:      "check",
						Usage:     "dry-run a rule against the tracker listing",
						ArgsUsage: "<rule id>",
						Action:    checkRule,
					},
				},
			},
		},
	}
	return a.Run(args)
}

// env is what every command needs: the loaded configuration, a logger and
// the wired application.
type env struct {
	cfg     *config.Config
	log     *slog.Logger
	app     *app.App
	logFile io.Closer
}

func setup(ctx context.Context, c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	log, closer := logging.New(cfg.Log)
	slog.SetDefault(log)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &env{cfg: cfg, log: log, app: a, logFile: closer}, nil
}

func (e *env) Close() {
	if err := e.app.Close(); err != nil {
		e.log.Error("close app", "err", err)
	}
	_ = e.logFile.Close()
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.Close()
	return e.app.Serve(ctx)
}

func runJob(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}
	ctx := context.Background()
	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.app.Jobs.Run(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "job %s finished\n", name)
	return nil
}

func listJobs(c *cli.Context) error {
	e, err := setup(context.Background(), c)
	if err != nil {
		return err
	}
	defer e.Close()
	for _, n := range e.app.Jobs.Names() {
		fmt.Fprintln(c.App.Writer, n)
	}
	return nil
}
