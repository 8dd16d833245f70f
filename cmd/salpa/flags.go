package main

import (
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cwbudde/algo-salpa/internal/config"
)

// options collects the command line. flags holds the values bound to the
// parameter flags; only those set explicitly override the config file.
type options struct {
	configPath string
	logLevel   string
	flags      config.Params
}

func newOptions() *options {
	return &options{flags: config.Default()}
}

// invertedBool is a flag that clears the bool it points to.
type invertedBool struct{ b *bool }

func (v invertedBool) String() string {
	if v.b == nil {
		return "false"
	}
	return strconv.FormatBool(!*v.b)
}

func (v invertedBool) Set(s string) error {
	x, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*v.b = !x
	return nil
}

func (invertedBool) Type() string { return "bool" }

func bindParams(fs *pflag.FlagSet, p *config.Params) {
	fs.Float64VarP(&p.SampleRateKHz, "sample-rate", "F", p.SampleRateKHz, "sample rate in kHz")
	fs.IntVarP(&p.Channels, "channels", "c", p.Channels, "channels to process (default: same as -C, or 64)")
	fs.IntVarP(&p.TotalChannels, "total-channels", "C", p.TotalChannels, "channels per frame (default: same as -c)")
	fs.Float64VarP(&p.Threshold, "threshold", "t", p.Threshold, "threshold in digital units")
	fs.Float64VarP(&p.ThresholdStd, "threshold-std", "x", p.ThresholdStd, "threshold as a multiple of the RMS noise")
	fs.Float64VarP(&p.TauMs, "tau", "l", p.TauMs, "half-width of the fit window in ms")
	fs.Float64VarP(&p.AsymMs, "asym", "a", p.AsymMs, "asymmetry window in ms")
	fs.Float64VarP(&p.BlankMs, "blank", "b", p.BlankMs, "blanking after recovery in ms")
	fs.Float64VarP(&p.AheadMs, "ahead", "A", p.AheadMs, "saturation lookahead in ms")
	fs.StringVarP(&p.Rails, "rails", "r", p.Rails, "saturation rails r1,r2 or a single magnitude")
	fs.Float64VarP(&p.PeriodMs, "period", "p", p.PeriodMs, "forced peg period in ms")
	fs.Float64VarP(&p.DelayMs, "delay", "d", p.DelayMs, "start of the first forced peg in ms")
	fs.Float64VarP(&p.ForcePegMs, "forcepeg", "f", p.ForcePegMs, "forced peg length in ms")
	fs.StringVarP(&p.EventFile, "events", "P", p.EventFile, "file of forced peg start times in frames")
	fs.IntVarP(&p.Threads, "threads", "T", p.Threads, "worker threads")
	fs.IntVarP(&p.BufferFrames, "buffer", "S", p.BufferFrames, "ring buffer frames, rounded down to a power of two")
	fs.StringVarP(&p.Input, "input", "i", p.Input, "input file (default stdin)")
	fs.StringVarP(&p.Output, "output", "o", p.Output, "output file (default stdout)")
	fs.Int64VarP(&p.Skip, "skip", "M", p.Skip, "frames to skip at the start of the input")
	fs.Int64VarP(&p.Limit, "limit", "N", p.Limit, "maximum frames to read, 0 for all")
	fs.BoolVarP(&p.Baseline, "baseline", "B", p.Baseline, "subtract each channel's median level")
	f := fs.VarPF(invertedBool{&p.PrematureRecovery}, "no-premature", "Z", "disable premature recovery")
	f.NoOptDefVal = "true"
}

// params merges defaults, the config file and explicitly set flags.
func (o *options) params(cmd *cobra.Command) (config.Params, error) {
	fs := cmd.Flags()
	if fs.Changed("threshold") && fs.Changed("threshold-std") {
		return config.Params{}, &config.UsageError{Msg: "-t and -x are mutually exclusive"}
	}

	p := config.Default()
	if o.configPath != "" {
		var err error
		if p, err = config.Load(o.configPath); err != nil {
			return config.Params{}, err
		}
	}

	overlay := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	bindParams(overlay, &p)
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil || overlay.Lookup(f.Name) == nil {
			return
		}
		err = overlay.Set(f.Name, f.Value.String())
	})
	if err != nil {
		return config.Params{}, &config.UsageError{Msg: "flags", Err: err}
	}
	switch {
	case fs.Changed("threshold"):
		p.ThresholdStd = 0
	case fs.Changed("threshold-std"):
		p.Threshold = 0
	}
	p.Normalize()
	return p, nil
}
