// Command salpa removes stimulation artifacts from multichannel raw
// recordings.
//
// Usage:
//
//	salpa [flags]
//	salpa check [flags]
//
// Recordings are interleaved little-endian int16 frames. Paths ending in
// .zst are zstd compressed; an empty path or "-" means stdin or stdout.
// Lengths are given in milliseconds and the sample rate in kHz.
//
// Examples:
//
//	salpa -F 25 -c 60 -p 100 -d 2.5 -f 1 -i rec.raw -o clean.raw
//	salpa -t 200 -P events.txt -f 1.5 < rec.raw > clean.raw.zst
//	salpa --config salpa.yaml -T 16
//	salpa check -C 64 -p 100 -i rec.raw -o clean.raw
//
// Exit status is 1 for usage errors and 2 for I/O or processing failures.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-salpa/internal/config"
	"github.com/cwbudde/algo-salpa/internal/driver"
	"github.com/cwbudde/algo-salpa/internal/rawio"
)

const (
	exitUsage   = 1
	exitRuntime = 2
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, newLogger(os.Stderr)))
}

func newLogger(w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return logger
}

func setLevel(logger *logrus.Logger, level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return &config.UsageError{Msg: "--log-level", Err: err}
	}
	logger.SetLevel(lvl)
	return nil
}

// execute runs the command line and returns the exit status.
func execute(args []string, stdout io.Writer, logger *logrus.Logger) int {
	cmd := newRootCmd(newOptions(), logger)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(logger.Out)

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	entry := logger.WithError(err)
	var fe *driver.FatalError
	if errors.As(err, &fe) {
		entry = entry.WithField("channel", fe.Channel)
	}
	code := exitCode(err)
	if code == exitUsage {
		entry.Error("usage error (see salpa --help)")
	} else {
		entry.Error("run failed")
	}
	return code
}

func exitCode(err error) int {
	var ue *config.UsageError
	if errors.As(err, &ue) {
		return exitUsage
	}
	return exitRuntime
}

func noArgs(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &config.UsageError{Msg: fmt.Sprintf("unexpected argument %q", args[0])}
	}
	return nil
}

func newRootCmd(o *options, logger *logrus.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "salpa",
		Short: "Remove stimulation artifacts from multichannel recordings",
		Long: `salpa suppresses stimulation artifacts in raw multichannel recordings.
Each channel is followed by a local cubic fit; samples near amplifier
saturation or with a poor fit are blanked, the rest are replaced by their
residual from the fit.`,
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return setLevel(logger, o.logLevel)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := o.params(cmd)
			if err != nil {
				return err
			}
			return process(p, logger)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &config.UsageError{Msg: "flags", Err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "YAML parameter file; flags override its values")
	pf.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	bindParams(pf, &o.flags)

	root.AddCommand(newCheckCmd(o, logger))
	return root
}

func process(p config.Params, logger *logrus.Logger) (err error) {
	cfg, err := p.DriverConfig()
	if err != nil {
		return err
	}
	sched, closer, err := p.Schedule()
	if err != nil {
		return err
	}
	defer closer.Close()

	in, err := rawio.OpenInput(p.Input)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := rawio.Skip(in, p.Skip, cfg.TotalChannels); err != nil {
		return err
	}

	out, err := rawio.CreateOutput(p.Output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()

	d, err := driver.New(cfg, in, out, sched, driver.WithLogger(logger.WithField("component", "driver")))
	if err != nil {
		return err
	}
	stats, err := d.Run()
	if err != nil {
		return err
	}
	for c, thr := range stats.Thresholds {
		fields := logrus.Fields{"channel": c, "threshold": thr}
		if c < len(stats.Baselines) {
			fields["baseline"] = stats.Baselines[c]
		}
		logger.WithFields(fields).Debug("channel parameters")
	}
	if stats.PegsDropped > 0 {
		logger.WithField("dropped", stats.PegsDropped).Warn("forced pegs before the processed region were dropped")
	}
	return nil
}
