package virtphy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbehnke/gsmmeas/internal/acch"
	"github.com/dbehnke/gsmmeas/internal/backhaul"
	"github.com/dbehnke/gsmmeas/internal/dispatch"
	"github.com/dbehnke/gsmmeas/internal/measurement"
	"github.com/dbehnke/gsmmeas/internal/power"
)

type periodLog struct {
	results map[string][]measurement.Result
}

func newRadio(t *testing.T, cfg Config, channels []measurement.ChannelConfig) (*Radio, *periodLog, *int) {
	t.Helper()

	reports := 0
	link := backhaul.NewLink(nil, backhaul.SinkFunc(func(*backhaul.Report) error {
		reports++
		return nil
	}))
	link.LinkUp()

	loop := dispatch.NewFollowLoop(nil)
	disp := dispatch.New(link, loop, loop.TA(), nil, nil)

	radio := New(cfg, disp, nil)
	for _, c := range channels {
		require.NoError(t, c.Validate())
		radio.Attach(dispatch.NewChannel(
			measurement.NewChannel(c, nil, nil),
			power.NewDownlink(power.DefaultParams(), power.State{Max: 20}, nil),
			acch.NewRepetition(acch.RepCaps{DLFacchCmd: true, RxQual: 4}, nil),
			acch.NewOverpower(acch.OverpowerCaps{OverpowerDB: 2, RxQual: 4}, nil),
		))
	}

	log := &periodLog{results: make(map[string][]measurement.Result)}
	radio.OnInterval(func(ch *dispatch.Channel, res measurement.Result) {
		log.results[ch.Meas.Name()] = append(log.results[ch.Meas.Name()], res)
	})
	return radio, log, &reports
}

func testChannels() []measurement.ChannelConfig {
	chans := []measurement.ChannelConfig{
		{Kind: measurement.KindTCHF, Mode: measurement.ModeSpeechV1, Timeslot: 1},
		{Kind: measurement.KindTCHF, Mode: measurement.ModeSpeechEFR, Timeslot: 2},
		{Kind: measurement.KindTCHF, Mode: measurement.ModeSignalling, Timeslot: 3},
		{Kind: measurement.KindTCHF, Mode: measurement.ModeSpeechAMR, Timeslot: 4},
		{Kind: measurement.KindTCHH, Mode: measurement.ModeSpeechV1, Timeslot: 2, Subslot: 0},
		{Kind: measurement.KindTCHH, Mode: measurement.ModeSpeechV1, Timeslot: 2, Subslot: 1},
		{Kind: measurement.KindTCHH, Mode: measurement.ModeSignalling, Timeslot: 5, Subslot: 0},
		{Kind: measurement.KindTCHH, Mode: measurement.ModeSignalling, Timeslot: 5, Subslot: 1},
		{Kind: measurement.KindTCHH, Mode: measurement.ModeSpeechAMR, Timeslot: 7, Subslot: 1},
	}
	for ss := uint8(0); ss < 8; ss++ {
		chans = append(chans, measurement.ChannelConfig{Kind: measurement.KindSDCCH8, Timeslot: 6, Subslot: ss})
	}
	for ss := uint8(0); ss < 4; ss++ {
		chans = append(chans, measurement.ChannelConfig{Kind: measurement.KindSDCCH4, Timeslot: 0, Subslot: ss})
	}
	return chans
}

func TestEveryPeriodIsComplete(t *testing.T) {
	channels := testChannels()
	radio, log, reports := newRadio(t, Config{ULLevelDBm: -80, DLLevelDBm: -60, Seed: 1}, channels)

	const periods = 20
	for fn := uint32(0); fn < periods*104; fn++ {
		radio.Tick(fn)
	}

	for _, cfg := range channels {
		results := log.results[cfg.String()]
		require.GreaterOrEqual(t, len(results), periods-1, cfg.String())

		// the first period started mid-way
		for n, res := range results[1:] {
			assert.Equal(t, measurement.ExpectedSamples(cfg), res.NumReal, "%s period %d", cfg, n+1)
			assert.Zero(t, res.NumSubst, "%s period %d", cfg, n+1)
			assert.Zero(t, res.NumExcess, "%s period %d", cfg, n+1)
			assert.False(t, res.SubMismatched, "%s period %d: %d SUB", cfg, n+1, res.NumSub)
			if !cfg.IsAMR() {
				assert.Equal(t, measurement.ExpectedSubSamples(cfg), res.NumSub, "%s period %d", cfg, n+1)
			}
			assert.Equal(t, uint8(30), res.Full.RxLev)
			assert.Equal(t, uint8(0), res.Full.RxQual)
		}
	}

	stats := radio.Stats()
	assert.Equal(t, stats.SACCH, uint64(*reports))
	assert.Zero(t, stats.Lost)
}

func TestBSPowerConverges(t *testing.T) {
	cfg := measurement.ChannelConfig{Kind: measurement.KindTCHF, Mode: measurement.ModeSpeechV1, Timeslot: 1}
	radio, _, _ := newRadio(t, Config{ULLevelDBm: -80, DLLevelDBm: -60, Seed: 1}, []measurement.ChannelConfig{cfg})

	for fn := uint32(0); fn < 10*104; fn++ {
		radio.Tick(fn)
	}

	// 15 dB above target: 4 + 4 + 4, then inside the 3 dB hysteresis
	ch := radio.Channels()[0]
	assert.Equal(t, 12, ch.BSPower.Current())
	assert.False(t, ch.Repetition.Active())
	assert.Equal(t, uint8(10), ch.ResultNr())
}

func TestLossIsSubstituted(t *testing.T) {
	cfg := measurement.ChannelConfig{Kind: measurement.KindTCHF, Mode: measurement.ModeSpeechV1, Timeslot: 1}
	radio, log, _ := newRadio(t, Config{ULLevelDBm: -80, DLLevelDBm: -60, LossPercent: 30, NoiseDB: 2, BER10k: 50, Seed: 7},
		[]measurement.ChannelConfig{cfg})

	for fn := uint32(0); fn < 30*104; fn++ {
		radio.Tick(fn)
	}

	results := log.results[cfg.String()]
	require.NotEmpty(t, results)
	var substituted int
	for _, res := range results[1:] {
		assert.Equal(t, measurement.ExpectedSamples(cfg), res.NumReal+res.NumSubst)
		substituted += res.NumSubst
	}
	assert.Positive(t, substituted)
	assert.Positive(t, radio.Stats().Lost)
}

func TestHyperframeWrap(t *testing.T) {
	cfg := measurement.ChannelConfig{Kind: measurement.KindSDCCH8, Subslot: 3}
	radio, log, _ := newRadio(t, Config{ULLevelDBm: -70, Seed: 1}, []measurement.ChannelConfig{cfg})

	start := uint32(2715648 - 5*102)
	for i := uint32(0); i < 10*102; i++ {
		radio.Tick(start + i)
	}

	results := log.results[cfg.String()]
	require.GreaterOrEqual(t, len(results), 9)
	for _, res := range results[1:] {
		assert.Equal(t, 3, res.NumReal)
		assert.False(t, res.SubMismatched)
	}
}

func TestBlockPositions(t *testing.T) {
	for _, cfg := range testChannels() {
		mod := measurement.Modulus(cfg.Kind)
		blocks := 0
		sacchFrames := 0
		for fn := uint32(0); fn < mod; fn++ {
			if isBlockStart(cfg, fn) {
				blocks++
				assert.False(t, isSACCHFrame(cfg, fn), "%s: block and SACCH at %d", cfg, fn)
			}
			if isSACCHFrame(cfg, fn) {
				sacchFrames++
			}
		}
		assert.Equal(t, measurement.ExpectedSamples(cfg), blocks+sacchFrames, cfg.String())
		assert.Equal(t, 1, sacchFrames, cfg.String())
	}

	assert.Panics(t, func() { isBlockStart(measurement.ChannelConfig{Kind: measurement.Kind(9)}, 0) })
}
