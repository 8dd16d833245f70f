package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-salpa/internal/schedule"
)

func normalized(mod func(*Params)) Params {
	p := Default()
	if mod != nil {
		mod(&p)
	}
	p.Normalize()
	return p
}

func TestDefaultDriverConfig(t *testing.T) {
	cfg, err := normalized(nil).DriverConfig()
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Channels)
	assert.Equal(t, 64, cfg.TotalChannels)
	assert.Equal(t, 90, cfg.Tau)
	assert.Equal(t, 6, cfg.AsymWindow)
	assert.Equal(t, 12, cfg.BlankDepeg)
	assert.Equal(t, 6, cfg.Ahead)
	assert.Equal(t, 12, cfg.Log2Ring)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, 3.0, cfg.ThresholdStd)
	assert.Zero(t, cfg.Threshold)
	assert.Equal(t, int32(-32767), cfg.RailLow)
	assert.Equal(t, int32(32767), cfg.RailHigh)
	assert.Zero(t, cfg.ForcePeg)
	assert.True(t, cfg.PrematureRecovery)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		c, total         int
		wantC, wantTotal int
	}{
		{0, 0, 64, 64},
		{16, 0, 16, 16},
		{0, 32, 32, 32},
		{8, 32, 8, 32},
	}
	for _, tt := range tests {
		p := Params{Channels: tt.c, TotalChannels: tt.total}
		p.Normalize()
		assert.Equal(t, tt.wantC, p.Channels)
		assert.Equal(t, tt.wantTotal, p.TotalChannels)
	}
}

func TestFrames(t *testing.T) {
	p := Default()
	assert.Equal(t, 9, p.Frames(0.3))
	assert.Equal(t, 6, p.Frames(0.2))
	assert.Equal(t, 90, p.Frames(3))
	assert.Equal(t, 0, p.Frames(0.01))

	p.SampleRateKHz = 25
	assert.Equal(t, 75, p.Frames(3))
	assert.Equal(t, 2, p.Frames(0.1))
}

func TestBufferRoundedDown(t *testing.T) {
	cfg, err := normalized(func(p *Params) { p.BufferFrames = 6000 }).DriverConfig()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Log2Ring)
}

func TestParseRails(t *testing.T) {
	tests := []struct {
		in     string
		lo, hi int32
	}{
		{"-32767,32767", -32767, 32767},
		{"2000,-1000", -1000, 2000},
		{" -5 , 7 ", -5, 7},
		{"30000", -30000, 30000},
		{"-30000", -30000, 30000},
	}
	for _, tt := range tests {
		lo, hi, err := ParseRails(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.lo, lo, tt.in)
		assert.Equal(t, tt.hi, hi, tt.in)
	}

	for _, in := range []string{"", "a,b", "1,2,3", "5,5", "0", "40000"} {
		_, _, err := ParseRails(in)
		var ue *UsageError
		assert.ErrorAs(t, err, &ue, in)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Params)
	}{
		{"zero rate", func(p *Params) { p.SampleRateKHz = 0 }},
		{"processed exceeds total", func(p *Params) { p.Channels, p.TotalChannels = 65, 64 }},
		{"both thresholds", func(p *Params) { p.Threshold = 100 }},
		{"no threshold", func(p *Params) { p.ThresholdStd = 0 }},
		{"negative threshold", func(p *Params) { p.Threshold, p.ThresholdStd = -1, 0 }},
		{"negative tau", func(p *Params) { p.TauMs = -1 }},
		{"bad rails", func(p *Params) { p.Rails = "x" }},
		{"events and period", func(p *Params) { p.EventFile, p.PeriodMs, p.ForcePegMs = "ev.txt", 100, 1 }},
		{"period without forcepeg", func(p *Params) { p.PeriodMs = 100 }},
		{"delay without forcepeg", func(p *Params) { p.DelayMs = 10 }},
		{"events without forcepeg", func(p *Params) { p.EventFile = "ev.txt" }},
		{"zero threads", func(p *Params) { p.Threads = 0 }},
		{"tiny buffer", func(p *Params) { p.BufferFrames = 3 }},
		{"negative skip", func(p *Params) { p.Skip = -1 }},
		{"negative limit", func(p *Params) { p.Limit = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := normalized(tt.mod).Validate()
			var ue *UsageError
			require.ErrorAs(t, err, &ue)
		})
	}

	require.NoError(t, normalized(func(p *Params) {
		p.Threshold, p.ThresholdStd = 200, 0
		p.PeriodMs, p.ForcePegMs = 1000, 2
	}).Validate())
}

func TestDriverValidationIsUsageError(t *testing.T) {
	// Tau of one frame and a ring too small for the default tau.
	for _, mod := range []func(*Params){
		func(p *Params) { p.TauMs = 0.04 },
		func(p *Params) { p.BufferFrames = 256 },
	} {
		_, err := normalized(mod).DriverConfig()
		var ue *UsageError
		require.ErrorAs(t, err, &ue)
		assert.NotNil(t, ue.Err)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "salpa.yaml", `
sample_rate_khz: 25
channels: 16
threshold: 150
tau_ms: 2
rails: "-2000,2000"
premature_recovery: false
`)
	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25.0, p.SampleRateKHz)
	assert.Equal(t, 16, p.Channels)
	assert.Equal(t, 150.0, p.Threshold)
	assert.Zero(t, p.ThresholdStd)
	assert.Equal(t, 2.0, p.TauMs)
	assert.Equal(t, 0.2, p.AsymMs)
	assert.False(t, p.PrematureRecovery)

	p.Normalize()
	cfg, err := p.DriverConfig()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.TotalChannels)
	assert.Equal(t, 50, cfg.Tau)
	assert.Equal(t, int32(2000), cfg.RailHigh)
}

func TestLoadKeepsExplicitThresholdStd(t *testing.T) {
	p, err := Load(writeFile(t, "a.yaml", "threshold: 150\nthreshold_std: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.ThresholdStd)
	p.Normalize()
	var ue *UsageError
	assert.ErrorAs(t, p.Validate(), &ue)
}

func TestLoadEmptyFile(t *testing.T) {
	p, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "tau: 3\n"))
	var ue *UsageError
	assert.ErrorAs(t, err, &ue)

	_, err = Load(writeFile(t, "bad.yaml", "tau_ms: [1\n"))
	assert.ErrorAs(t, err, &ue)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func collect(t *testing.T, src schedule.Source, n int) []schedule.Peg {
	t.Helper()
	var out []schedule.Peg
	for len(out) < n {
		peg, ok, err := src.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, peg)
	}
	return out
}

func TestScheduleNone(t *testing.T) {
	src, c, err := normalized(nil).Schedule()
	require.NoError(t, err)
	defer c.Close()
	assert.Empty(t, collect(t, src, 1))
}

func TestSchedulePeriodic(t *testing.T) {
	src, c, err := normalized(func(p *Params) {
		p.PeriodMs, p.DelayMs, p.ForcePegMs = 100, 10, 1
	}).Schedule()
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, []schedule.Peg{
		{Start: 300, End: 330},
		{Start: 3300, End: 3330},
		{Start: 6300, End: 6330},
	}, collect(t, src, 3))
}

func TestSchedulePeriodicSkip(t *testing.T) {
	// Pegs at 300 + 3000k; after skipping 6310 frames the peg at 6300 is
	// still partly ahead.
	src, c, err := normalized(func(p *Params) {
		p.PeriodMs, p.DelayMs, p.ForcePegMs, p.Skip = 100, 10, 1, 6310
	}).Schedule()
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, []schedule.Peg{
		{Start: -10, End: 20},
		{Start: 2990, End: 3020},
	}, collect(t, src, 2))

	src, _, err = normalized(func(p *Params) {
		p.PeriodMs, p.DelayMs, p.ForcePegMs, p.Skip = 100, 10, 1, 6330
	}).Schedule()
	require.NoError(t, err)
	assert.Equal(t, []schedule.Peg{{Start: 2970, End: 3000}}, collect(t, src, 1))
}

func TestScheduleSinglePegSkipped(t *testing.T) {
	src, _, err := normalized(func(p *Params) {
		p.DelayMs, p.ForcePegMs, p.Skip = 10, 1, 1000
	}).Schedule()
	require.NoError(t, err)
	assert.Empty(t, collect(t, src, 1))
}

func TestScheduleEventFile(t *testing.T) {
	path := writeFile(t, "events.txt", "1000\n2500 4000\n")
	src, c, err := normalized(func(p *Params) {
		p.EventFile, p.ForcePegMs, p.Skip = path, 2, 500
	}).Schedule()
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, []schedule.Peg{
		{Start: 500, End: 560},
		{Start: 2000, End: 2060},
		{Start: 3500, End: 3560},
	}, collect(t, src, 5))
}

func TestScheduleMissingEventFile(t *testing.T) {
	_, _, err := normalized(func(p *Params) {
		p.EventFile, p.ForcePegMs = filepath.Join(t.TempDir(), "none"), 1
	}).Schedule()
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestUsageErrorFormat(t *testing.T) {
	err := &UsageError{Msg: "-S", Err: errors.New("too small")}
	assert.Equal(t, "-S: too small", err.Error())
	assert.Equal(t, "-c: bad", usagef("-c: %s", "bad").Error())
}
