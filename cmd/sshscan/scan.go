package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tastythames/sshscan/internal/cache"
	"github.com/tastythames/sshscan/internal/inventory"
	"github.com/tastythames/sshscan/internal/metrics"
	"github.com/tastythames/sshscan/internal/report"
	"github.com/tastythames/sshscan/internal/scheduler"
)

func newScanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan every inventory target once",
		Long: `Scan connects to every inventory target, tries its credentials in order
and runs its commands. Failed hosts are reported, they do not change the
exit status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.scan(cmd)
		},
	}
	addEngineFlags(cmd)
	f := cmd.Flags()
	f.Bool("table", false, "print a summary table when the scan finishes")
	f.Bool("progress", false, "show a progress bar on stderr")
	f.Bool("quiet", false, "no per-host console lines")
	f.Bool("no-color", false, "disable coloured console output")
	f.String("metrics-file", "", "write Prometheus metrics for the textfile collector")
	return cmd
}

func (a *app) scan(cmd *cobra.Command) error {
	inv, err := inventory.Load(a.fs, a.v.GetString("inventory"))
	if err != nil {
		return errors.Wrap(err, "load inventory")
	}
	dialer, err := a.dialer()
	if err != nil {
		return err
	}

	var sinks []scheduler.Sink
	if !a.v.GetBool("quiet") {
		sinks = append(sinks, report.NewConsole(a.stdout, !a.v.GetBool("no-color") && !color.NoColor))
	}
	jsonl, err := a.jsonlSink()
	if err != nil {
		return err
	}
	if jsonl != nil {
		sinks = append(sinks, jsonl)
	}
	if a.v.GetBool("table") {
		sinks = append(sinks, report.NewTable(a.stdout))
	}
	results := cache.NewMemCache()
	sinks = append(sinks, results)
	sink := report.NewMulti(sinks...)

	var onDone func(scheduler.JobOutcome)
	if a.v.GetBool("progress") {
		bar := progressbar.NewOptions(inv.Len(),
			progressbar.OptionSetWriter(a.stderr),
			progressbar.OptionSetDescription("scanning"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish())
		onDone = func(scheduler.JobOutcome) { _ = bar.Add(1) }
	}

	eng, err := scheduler.New(scheduler.Options{
		Workers:   a.v.GetInt("workers"),
		QueueSize: a.v.GetInt("queue-size"),
		Dialer:    dialer,
		Sink:      sink,
		Logger:    a.log,
		OnJobDone: onDone,
	})
	if err != nil {
		return err
	}

	started := time.Now()
	stats, err := eng.Run(cmd.Context(), inv.Jobs())
	if cerr := sink.Close(); cerr != nil {
		a.log.Warn("closing reports", zap.Error(cerr))
	}
	if err != nil {
		return err
	}
	a.log.Info("scan complete",
		zap.Int("targets", inv.Len()),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		since(started))

	if path := a.v.GetString("metrics-file"); path != "" {
		m := metrics.New(results)
		m.ObserveScan(stats, time.Since(started))
		if err := m.WriteTextfile(path); err != nil {
			return err
		}
	}
	return nil
}

// jsonlSink returns nil when no JSON lines output was asked for.
func (a *app) jsonlSink() (*report.JSONLines, error) {
	switch path := a.v.GetString("jsonl"); path {
	case "":
		return nil, nil
	case "-":
		return report.NewJSONLines(a.stdout), nil
	default:
		return report.OpenJSONLines(a.fs, path)
	}
}
