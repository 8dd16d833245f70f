package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-salpa/internal/config"
	"github.com/cwbudde/algo-salpa/internal/rawio"
	"github.com/cwbudde/algo-salpa/internal/report"
)

func newCheckCmd(o *options, logger *logrus.Logger) *cobra.Command {
	var (
		stimHz    float64
		harmonics int
		segment   int
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare a recording with its processed output",
		Long: `check reads the input (-i) and the processed output (-o) and prints, per
channel, the blanked sample count, RMS levels and the suppression of the
stimulation rate and its harmonics. The rate defaults to 1000/period.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := o.params(cmd)
			if err != nil {
				return err
			}
			if p.Input == "" || p.Input == "-" || p.Output == "" || p.Output == "-" {
				return &config.UsageError{Msg: "check needs -i and -o files"}
			}
			if !(p.SampleRateKHz > 0) {
				return &config.UsageError{Msg: "-F: sample rate must be > 0"}
			}
			if !cmd.Flags().Changed("stim-hz") && p.PeriodMs > 0 {
				stimHz = 1000 / p.PeriodMs
			}

			in, err := rawio.OpenInput(p.Input)
			if err != nil {
				return err
			}
			defer in.Close()
			if err := rawio.Skip(in, p.Skip, p.TotalChannels); err != nil {
				return err
			}
			out, err := rawio.OpenInput(p.Output)
			if err != nil {
				return err
			}
			defer out.Close()

			channels, err := report.Compare(in, out, p.TotalChannels,
				report.WithSampleRate(p.SampleRateKHz*1000),
				report.WithStimFrequency(stimHz),
				report.WithHarmonics(harmonics),
				report.WithSegmentLen(segment),
			)
			if err != nil {
				return err
			}
			if len(channels) > 0 {
				logger.WithFields(logrus.Fields{
					"channels": len(channels),
					"frames":   channels[0].Frames,
					"stim_hz":  stimHz,
				}).Info("compared")
			}
			return report.Write(cmd.OutOrStdout(), channels)
		},
	}
	def := report.DefaultConfig()
	cmd.Flags().Float64Var(&stimHz, "stim-hz", 0, "stimulation rate in Hz (default: 1000/period)")
	cmd.Flags().IntVar(&harmonics, "harmonics", def.Harmonics, "harmonics of the stimulation rate to include")
	cmd.Flags().IntVar(&segment, "segment", def.SegmentLen, "Welch segment length, a power of two")
	return cmd
}
