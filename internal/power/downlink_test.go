package power

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbehnke/gsmmeas/internal/protocol/sacch"
)

const testRxLevTarget = 30

func testParams() Params {
	return Params{
		TargetDBm:      -110 + testRxLevTarget,
		RaiseStepMaxDB: 4,
		LowerStepMaxDB: 8,
	}
}

type stepType int

const (
	stepMeas stepType = iota
	stepDummy
	stepSetState
	stepSetParams
	stepEnableDTXd
)

type step struct {
	typ    stepType
	state  State
	params Params
	meas   sacch.MeasResults
	exp    int
}

func fullSub(rxqual, rxlev uint8) sacch.MeasResults {
	return sacch.MeasResults{
		RxQualFull: rxqual,
		RxLevFull:  rxlev,
		RxQualSub:  rxqual,
		RxLevSub:   rxlev,
		Valid:      true,
	}
}

func fullSubInvalid(rxqual, rxlev uint8) sacch.MeasResults {
	m := fullSub(rxqual, rxlev)
	m.Valid = false
	return m
}

// runSteps feeds the steps through the loop the way the SACCH handler
// does: dummy blocks never reach Apply
func runSteps(t *testing.T, steps []step) {
	t.Helper()

	d := NewDownlink(testParams(), State{}, nil)
	dtx := false

	for n, s := range steps {
		switch s.typ {
		case stepSetState:
			d.SetState(s.state)
			continue
		case stepSetParams:
			d.SetParams(s.params)
			continue
		case stepEnableDTXd:
			dtx = true
			continue
		case stepDummy:
			block := sacch.Block{L1: sacch.L1Header{}}
			raw := block.Build()
			if sacch.IsMeasReport(raw) {
				t.Fatalf("#%02d dummy block classified as report", n)
			}
		case stepMeas:
			d.Apply(s.meas, dtx)
		}

		if got := d.Current(); got != s.exp {
			t.Errorf("#%02d attenuation = %d dB, want %d dB", n, got, s.exp)
		}
	}
}

func TestFixedMode(t *testing.T) {
	runSteps(t, []step{
		{typ: stepSetState, state: State{Current: 10, Max: 2 * 10, Fixed: true}},

		// random values must be ignored
		{meas: fullSub(0, 63), exp: 10},
		{meas: fullSub(7, 0), exp: 10},
		{meas: fullSub(0, 30), exp: 10},
		{meas: fullSub(1, 30), exp: 10},
		{meas: fullSub(1, 50), exp: 10},
	})
}

func TestRxLevTarget(t *testing.T) {
	runSteps(t, []step{
		{typ: stepSetState, state: State{Current: 0, Max: 2 * 10}},

		{meas: fullSub(0, testRxLevTarget), exp: 0},
		{meas: fullSub(0, testRxLevTarget), exp: 0},
		{meas: fullSub(0, testRxLevTarget), exp: 0},
		{meas: fullSub(0, testRxLevTarget), exp: 0},
	})
}

func TestRxLevMaxMin(t *testing.T) {
	runSteps(t, []step{
		{typ: stepSetState, state: State{Current: 0, Max: 2 * 10}},

		// -50 dBm, 30 dB above target
		{meas: fullSub(0, 60), exp: 4},
		{meas: fullSub(0, 60), exp: 8},
		{meas: fullSub(0, 60), exp: 12},
		{meas: fullSub(0, 60), exp: 16},
		{meas: fullSub(0, 60), exp: 20},
		{meas: fullSub(0, 60), exp: 20},
		{meas: fullSub(0, 60), exp: 20},

		// -100 dBm, 20 dB below target
		{meas: fullSub(0, 10), exp: 12},
		{meas: fullSub(0, 10), exp: 4},
		{meas: fullSub(0, 10), exp: 0},
		{meas: fullSub(0, 10), exp: 0},
		{meas: fullSub(0, 10), exp: 0},
	})
}

func TestDTXdUsesSubValues(t *testing.T) {
	mixed := func(qFull, lFull uint8) sacch.MeasResults {
		return sacch.MeasResults{
			RxQualFull: qFull,
			RxLevFull:  lFull,
			RxQualSub:  0,
			RxLevSub:   testRxLevTarget,
			Valid:      true,
		}
	}

	runSteps(t, []step{
		{typ: stepSetState, state: State{Current: 0, Max: 2 * 10}},

		{meas: fullSub(0, testRxLevTarget), exp: 0},
		{meas: fullSub(0, testRxLevTarget), exp: 0},

		{typ: stepEnableDTXd},

		// SUB carries the target level, FULL is garbage
		{meas: mixed(7, 0), exp: 0},
		{meas: mixed(3, 30), exp: 0},
		{meas: mixed(0, 63), exp: 0},
	})
}

func TestRxQualHalvesAttenuation(t *testing.T) {
	runSteps(t, []step{
		{typ: stepSetState, state: State{Current: 16, Max: 2 * 10}},

		{meas: fullSub(0, testRxLevTarget), exp: 16},
		{meas: fullSub(0, testRxLevTarget), exp: 16},

		// target level, but bit errors
		{meas: fullSub(7, testRxLevTarget), exp: 16 / 2},
		{meas: fullSub(4, testRxLevTarget), exp: 16 / 4},
		{meas: fullSub(1, testRxLevTarget), exp: 16 / 8},

		{meas: fullSub(0, testRxLevTarget), exp: 16 / 8},
		{meas: fullSub(0, testRxLevTarget), exp: 16 / 8},

		{typ: stepSetState, state: State{Current: 16, Max: 2 * 10}},

		{meas: fullSub(7, testRxLevTarget), exp: 16 / 2},
		{meas: fullSub(7, testRxLevTarget), exp: 16 / 4},
		{meas: fullSub(7, testRxLevTarget), exp: 16 / 8},
		{meas: fullSub(7, testRxLevTarget), exp: 16 / 16},
		{meas: fullSub(7, testRxLevTarget), exp: 16 / 32},
	})
}

func TestRxQualOverridesStrongLevel(t *testing.T) {
	d := NewDownlink(testParams(), State{Current: 9, Max: 20}, nil)

	// a level far above target would add attenuation, bit errors win
	changed := d.Apply(fullSub(2, 63), false)
	assert.True(t, changed)
	assert.Equal(t, 4, d.Current())

	// floor division all the way down
	d.Apply(fullSub(2, 63), false)
	d.Apply(fullSub(2, 63), false)
	assert.Equal(t, 1, d.Current())
	assert.True(t, d.Apply(fullSub(2, 63), false))
	assert.Equal(t, 0, d.Current())
	assert.False(t, d.Apply(fullSub(2, 63), false))
}

func TestInvalidAndDummyIgnored(t *testing.T) {
	runSteps(t, []step{
		{typ: stepSetState, state: State{Current: 16, Max: 2 * 10}},

		{meas: fullSubInvalid(7, 63), exp: 16},
		{meas: fullSubInvalid(0, 0), exp: 16},

		// SAPI 3 blocks replace some of the reports
		{meas: fullSub(0, testRxLevTarget), exp: 16},
		{typ: stepDummy, exp: 16},
		{meas: fullSub(0, testRxLevTarget), exp: 16},
		{typ: stepDummy, exp: 16},
		{meas: fullSub(0, testRxLevTarget), exp: 16},
	})
}

func TestRxLevHysteresis(t *testing.T) {
	withHyst := testParams()
	withHyst.HysteresisDB = 3

	runSteps(t, []step{
		{typ: stepSetState, state: State{Current: 12, Max: 2 * 8}},

		// no hysteresis, small deviations oscillate
		{meas: fullSub(0, testRxLevTarget+1), exp: 13},
		{meas: fullSub(0, testRxLevTarget-2), exp: 11},
		{meas: fullSub(0, testRxLevTarget+3), exp: 14},
		{meas: fullSub(0, testRxLevTarget-2), exp: 12},

		{typ: stepSetParams, params: withHyst},

		{meas: fullSub(0, testRxLevTarget+1), exp: 12},
		{meas: fullSub(0, testRxLevTarget-2), exp: 12},
		{meas: fullSub(0, testRxLevTarget+3), exp: 12},
		{meas: fullSub(0, testRxLevTarget-2), exp: 12},
	})
}

func TestRxLevEWMA(t *testing.T) {
	ewma := testParams()
	ewma.Filter = FilterEWMA
	ewma.EWMAAlpha = 50

	runSteps(t, []step{
		{typ: stepSetState, state: State{Current: 16, Max: 2 * 15}},
		{typ: stepSetParams, params: ewma},

		{meas: fullSub(0, testRxLevTarget), exp: 16},
		{meas: fullSub(0, testRxLevTarget), exp: 16},

		// avg = 0.5*26 + 0.5*30 = 28, delta -2
		{meas: fullSub(0, testRxLevTarget-4), exp: 14},
		// avg = 0.5*26 + 0.5*28 = 27, delta -3
		{meas: fullSub(0, testRxLevTarget-4), exp: 11},
		// avg = 0.5*35 + 0.5*27 = 31, delta +1
		{meas: fullSub(0, testRxLevTarget+5), exp: 12},
		// avg = 0.5*35 + 0.5*31 = 33, delta +3
		{meas: fullSub(0, testRxLevTarget+5), exp: 15},
	})
}

func TestRxLevEWMAFractionalAverage(t *testing.T) {
	ewma := testParams()
	ewma.Filter = FilterEWMA
	ewma.EWMAAlpha = 50

	tests := []struct {
		name  string
		rxlev uint8
		exp   int
	}{
		// avg = 0.5*27 + 0.5*30 = 28.5, floor 28, delta -2
		{"weaker", testRxLevTarget - 3, 14},
		// avg = 0.5*33 + 0.5*30 = 31.5, floor 31, delta +1
		{"stronger", testRxLevTarget + 3, 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDownlink(ewma, State{Current: 16, Max: 30}, nil)
			d.Apply(fullSub(0, testRxLevTarget), false)
			assert.Equal(t, 16, d.Current())

			d.Apply(fullSub(0, tt.rxlev), false)
			assert.Equal(t, tt.exp, d.Current())
		})
	}
}

func TestSetParamsDisablingFilterDropsHistory(t *testing.T) {
	p := testParams()
	p.Filter = FilterEWMA
	p.EWMAAlpha = 10

	d := NewDownlink(p, State{Current: 10, Max: 20}, nil)
	d.Apply(fullSub(0, testRxLevTarget), false)

	p.Filter = FilterNone
	d.SetParams(p)
	assert.False(t, d.ewma.init)

	// unfiltered: 5 dB above target gives the full step
	d.Apply(fullSub(0, testRxLevTarget+5), false)
	assert.Equal(t, 14, d.Current())
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	bad := DefaultParams()
	bad.Filter = FilterEWMA
	bad.EWMAAlpha = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidParams)

	bad = DefaultParams()
	bad.TargetDBm = -30
	assert.ErrorIs(t, bad.Validate(), ErrInvalidParams)

	bad = DefaultParams()
	bad.LowerStepMaxDB = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidParams)

	f, err := ParseFilter("ewma")
	assert.NoError(t, err)
	assert.Equal(t, FilterEWMA, f)
	_, err = ParseFilter("kalman")
	assert.ErrorIs(t, err, ErrInvalidParams)
}
