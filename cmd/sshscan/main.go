package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tastythames/sshscan/internal/logger"
	"github.com/tastythames/sshscan/internal/scheduler"
	"github.com/tastythames/sshscan/internal/sshclient"
)

var version = "dev"

type app struct {
	fs     afero.Fs
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer

	log      *zap.Logger
	closeLog func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(afero.NewOsFs(), os.Stdout, os.Stderr).execute(ctx, os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

func newApp(fs afero.Fs, stdout, stderr io.Writer) *app {
	return &app{fs: fs, v: viper.New(), stdout: stdout, stderr: stderr}
}

// execute runs the command line and releases the logger even when the
// command fails, since cobra skips post-run hooks on error.
func (a *app) execute(ctx context.Context, args []string) error {
	defer func() {
		if err := a.close(); err != nil {
			fmt.Fprintln(a.stderr, err)
		}
	}()
	root := a.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sshscan",
		Short:        "Scan a fleet of hosts over SSH and report per-host results",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml)")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.String("log-format", "console", "console or json")
	pf.String("log-output", "stderr", "stdout, stderr or a file path")

	root.AddCommand(newScanCmd(a), newServeCmd(a), newVersionCmd())
	return root
}

// init wires flags, SSHSCAN_* environment and the optional config file into
// viper, then builds the logger.
func (a *app) init(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "bind flags")
	}
	a.v.SetEnvPrefix("sshscan")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	if path := a.v.GetString("config"); path != "" {
		a.v.SetFs(a.fs)
		a.v.SetConfigFile(path)
		a.v.SetConfigType("yaml")
		if err := a.v.ReadInConfig(); err != nil {
			return errors.Wrap(err, "read config")
		}
	}

	cfg := logger.DefaultConfig("sshscan")
	cfg.Level = a.v.GetString("log-level")
	cfg.Encoding = a.v.GetString("log-format")
	cfg.OutputPath = a.v.GetString("log-output")

	log, closeLog, err := logger.New(cfg)
	if err != nil {
		return err
	}
	a.log, a.closeLog = log, closeLog
	return nil
}

func (a *app) close() error {
	if a.closeLog == nil {
		return nil
	}
	closeLog := a.closeLog
	a.closeLog = nil
	return closeLog()
}

// addEngineFlags registers the flags shared by scan and serve.
func addEngineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("inventory", "i", "inventory.yaml", "inventory file")
	f.IntP("workers", "w", 5, "concurrent SSH connections")
	f.Int("queue-size", 0, "connection queue buffer (default 2x workers)")
	f.Duration("timeout", scheduler.DefaultTimeout, "connect timeout for targets without one")
	f.Int("port", scheduler.DefaultPort, "SSH port for targets without one")
	f.String("known-hosts", "", "verify host keys against this known_hosts file")
	f.Bool("insecure-host-key", true, "accept unknown host keys when no known_hosts file is set")
	f.String("jsonl", "", "append one JSON line per host to this file (- for stdout)")
}

func (a *app) dialer() (*sshclient.Client, error) {
	cfg := sshclient.DefaultConfig()
	cfg.Timeout = a.v.GetDuration("timeout")
	cfg.Port = a.v.GetInt("port")
	cfg.KnownHostsFile = a.v.GetString("known-hosts")
	cfg.InsecureSkipHostKey = a.v.GetBool("insecure-host-key")
	cfg.ClientVersion = "SSH-2.0-sshscan_" + version
	return sshclient.New(cfg, a.log)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sshscan %s\n", version)
		},
	}
}

func since(t time.Time) zap.Field {
	return zap.Duration("took", time.Since(t).Round(time.Millisecond))
}
