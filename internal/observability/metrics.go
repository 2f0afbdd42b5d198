package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MeasCollector bundles the Prometheus metrics of the measurement core.
// All recording methods are safe on a nil receiver so that components can
// run without metrics.
type MeasCollector struct {
	gatherer prometheus.Gatherer

	SamplesRecorded *prometheus.CounterVec
	SamplesDropped  *prometheus.CounterVec
	Intervals       *prometheus.CounterVec
	Substituted     *prometheus.CounterVec
	SubMismatches   *prometheus.CounterVec

	ReportsForwarded *prometheus.CounterVec
	ReportsFailed    *prometheus.CounterVec

	ULRxLev         *prometheus.GaugeVec
	ULRxQual        *prometheus.GaugeVec
	BSAttenuation   *prometheus.GaugeVec
	FacchRepetition *prometheus.GaugeVec
	AcchOverpower   *prometheus.GaugeVec
}

// NewMeasCollector registers the measurement metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewMeasCollector(reg prometheus.Registerer) (*MeasCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &MeasCollector{gatherer: gatherer}

	counters := []struct {
		dst    **prometheus.CounterVec
		name   string
		help   string
		labels []string
	}{
		{&c.SamplesRecorded, "gsmmeas_ul_samples_total", "Uplink measurement samples stored, labeled by channel and set (full/sub).", []string{"chan", "set"}},
		{&c.SamplesDropped, "gsmmeas_ul_samples_dropped_total", "Uplink measurement samples dropped because the buffer was full.", []string{"chan"}},
		{&c.Intervals, "gsmmeas_intervals_total", "Completed measurement periods.", []string{"chan"}},
		{&c.Substituted, "gsmmeas_ul_samples_substituted_total", "Missing samples replaced with placeholder values.", []string{"chan"}},
		{&c.SubMismatches, "gsmmeas_sub_mismatch_total", "Periods whose SUB sample count differs from the expected count.", []string{"chan"}},
		{&c.ReportsForwarded, "gsmmeas_reports_forwarded_total", "Measurement results delivered to the backhaul.", []string{"chan"}},
		{&c.ReportsFailed, "gsmmeas_reports_failed_total", "Measurement results the backhaul rejected.", []string{"chan"}},
	}
	for _, m := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: m.name, Help: m.help}, m.labels)
		vec, err := registerCounterVec(reg, vec, m.name)
		if err != nil {
			return nil, err
		}
		*m.dst = vec
	}

	gauges := []struct {
		dst    **prometheus.GaugeVec
		name   string
		help   string
		labels []string
	}{
		{&c.ULRxLev, "gsmmeas_ul_rxlev", "Uplink RXLEV of the last completed period.", []string{"chan", "set"}},
		{&c.ULRxQual, "gsmmeas_ul_rxqual", "Uplink RXQUAL of the last completed period.", []string{"chan", "set"}},
		{&c.BSAttenuation, "gsmmeas_bs_attenuation_db", "Current downlink transmit attenuation in dB.", []string{"chan"}},
		{&c.FacchRepetition, "gsmmeas_facch_repetition_active", "1 while downlink FACCH repetition is applied.", []string{"chan"}},
		{&c.AcchOverpower, "gsmmeas_acch_overpower_active", "1 while temporary ACCH overpower is applied.", []string{"chan"}},
	}
	for _, m := range gauges {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: m.name, Help: m.help}, m.labels)
		vec, err := registerGaugeVec(reg, vec, m.name)
		if err != nil {
			return nil, err
		}
		*m.dst = vec
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MeasCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func setName(sub bool) string {
	if sub {
		return "sub"
	}
	return "full"
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// SampleRecorded counts a stored uplink sample
func (c *MeasCollector) SampleRecorded(channel string, sub bool) {
	if c == nil {
		return
	}
	c.SamplesRecorded.WithLabelValues(channel, setName(sub)).Inc()
}

// SampleDropped counts a sample lost to a full buffer
func (c *MeasCollector) SampleDropped(channel string) {
	if c == nil {
		return
	}
	c.SamplesDropped.WithLabelValues(channel).Inc()
}

// IntervalCompleted counts a completed period and its substituted samples
func (c *MeasCollector) IntervalCompleted(channel string, real, substituted int) {
	if c == nil {
		return
	}
	c.Intervals.WithLabelValues(channel).Inc()
	c.Substituted.WithLabelValues(channel).Add(float64(substituted))
}

// SubMismatch counts a period with an unexpected number of SUB samples
func (c *MeasCollector) SubMismatch(channel string) {
	if c == nil {
		return
	}
	c.SubMismatches.WithLabelValues(channel).Inc()
}

// ReportSent counts a delivered or rejected measurement result
func (c *MeasCollector) ReportSent(channel string, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.ReportsFailed.WithLabelValues(channel).Inc()
		return
	}
	c.ReportsForwarded.WithLabelValues(channel).Inc()
}

// SetUplinkLevels publishes the RXLEV/RXQUAL of the last period
func (c *MeasCollector) SetUplinkLevels(channel string, rxlevFull, rxqualFull, rxlevSub, rxqualSub uint8) {
	if c == nil {
		return
	}
	c.ULRxLev.WithLabelValues(channel, "full").Set(float64(rxlevFull))
	c.ULRxLev.WithLabelValues(channel, "sub").Set(float64(rxlevSub))
	c.ULRxQual.WithLabelValues(channel, "full").Set(float64(rxqualFull))
	c.ULRxQual.WithLabelValues(channel, "sub").Set(float64(rxqualSub))
}

// SetDownlinkState publishes the BS power and ACCH decider state
func (c *MeasCollector) SetDownlinkState(channel string, attenuationDB int, facchRepetition, acchOverpower bool) {
	if c == nil {
		return
	}
	c.BSAttenuation.WithLabelValues(channel).Set(float64(attenuationDB))
	c.FacchRepetition.WithLabelValues(channel).Set(boolGauge(facchRepetition))
	c.AcchOverpower.WithLabelValues(channel).Set(boolGauge(acchOverpower))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
