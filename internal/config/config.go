package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dbehnke/gsmmeas/internal/acch"
	"github.com/dbehnke/gsmmeas/internal/measurement"
	"github.com/dbehnke/gsmmeas/internal/power"
)

// BTSSection describes the cell and the frame loop
type BTSSection struct {
	Name         string `yaml:"name"`
	FrameClock   bool   `yaml:"frame_clock"`
	StatsSeconds int    `yaml:"stats_interval_seconds"`
	QueueDepth   int    `yaml:"report_queue_depth"`
}

// PowerSection holds the BS power control parameters
type PowerSection struct {
	TargetDBm      int    `yaml:"target_dbm"`
	HysteresisDB   int    `yaml:"hysteresis_db"`
	RaiseStepMaxDB int    `yaml:"raise_step_max_db"`
	LowerStepMaxDB int    `yaml:"lower_step_max_db"`
	Filter         string `yaml:"filter"`
	EWMAAlpha      int    `yaml:"ewma_alpha"`
	InitialDB      int    `yaml:"initial_db"`
	MaxDB          int    `yaml:"max_db"`
	Fixed          bool   `yaml:"fixed"`
}

// RepetitionSection is the repeated FACCH capability
type RepetitionSection struct {
	DLFacchCmd bool  `yaml:"dl_facch_cmd"`
	DLFacchAll bool  `yaml:"dl_facch_all"`
	RxQual     uint8 `yaml:"rxqual"`
}

// OverpowerSection is the temporary ACCH overpower capability
type OverpowerSection struct {
	DB     uint8 `yaml:"db"`
	RxQual uint8 `yaml:"rxqual"`
}

// ACCHSection groups the ACCH robustness settings
type ACCHSection struct {
	Repetition RepetitionSection `yaml:"repetition"`
	Overpower  OverpowerSection  `yaml:"overpower"`
}

// ChannelSection describes one lchan
type ChannelSection struct {
	Kind     string `yaml:"kind"`
	Mode     string `yaml:"mode"`
	Data     bool   `yaml:"data"`
	Timeslot uint8  `yaml:"timeslot"`
	Subslot  uint8  `yaml:"subslot"`
}

// DatabaseSection configures the report store
type DatabaseSection struct {
	Enabled        bool   `yaml:"enabled"`
	Path           string `yaml:"path"`
	RetentionHours int    `yaml:"retention_hours"`
	Debug          bool   `yaml:"debug"`
}

// MetricsSection configures the Prometheus endpoint
type MetricsSection struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LogSection configures logging
type LogSection struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// VirtPHYSection configures the synthetic radio
type VirtPHYSection struct {
	Enabled     bool   `yaml:"enabled"`
	ULLevelDBm  int    `yaml:"ul_level_dbm"`
	DLLevelDBm  int    `yaml:"dl_level_dbm"`
	NoiseDB     int    `yaml:"noise_db"`
	BER10k      uint32 `yaml:"ber10k"`
	LossPercent int    `yaml:"loss_percent"`
	DLDTX       bool   `yaml:"dl_dtx"`
	Seed        int64  `yaml:"seed"`
}

type file struct {
	BTS      BTSSection       `yaml:"bts"`
	Power    PowerSection     `yaml:"power"`
	ACCH     ACCHSection      `yaml:"acch"`
	Channels []ChannelSection `yaml:"channels"`
	Database DatabaseSection  `yaml:"database"`
	Metrics  MetricsSection   `yaml:"metrics"`
	Log      LogSection       `yaml:"log"`
	VirtPHY  VirtPHYSection   `yaml:"virtphy"`
}

// Config represents the gsmmeasd configuration
type Config struct {
	filename string
	f        file

	// derived by Validate
	powerParams power.Params
	channels    []measurement.ChannelConfig
}

// NewConfig creates a new configuration instance
func NewConfig(filename string) *Config {
	p := power.DefaultParams()

	c := &Config{
		filename: filename,
		f: file{
			BTS: BTSSection{
				Name:         "gsmmeas",
				FrameClock:   true,
				StatsSeconds: 30,
				QueueDepth:   256,
			},
			Power: PowerSection{
				TargetDBm:      p.TargetDBm,
				HysteresisDB:   p.HysteresisDB,
				RaiseStepMaxDB: p.RaiseStepMaxDB,
				LowerStepMaxDB: p.LowerStepMaxDB,
				Filter:         p.Filter.String(),
				EWMAAlpha:      p.EWMAAlpha,
				InitialDB:      0,
				MaxDB:          20,
			},
			ACCH: ACCHSection{
				Repetition: RepetitionSection{DLFacchCmd: true, RxQual: 4},
				Overpower:  OverpowerSection{DB: 2, RxQual: 4},
			},
			Channels: defaultChannels(),
			Database: DatabaseSection{
				Enabled:        false,
				Path:           "data/reports.db",
				RetentionHours: 24,
			},
			Metrics: MetricsSection{
				Enabled: true,
				Listen:  ":9108",
			},
			Log: LogSection{
				Level:  "info",
				Format: "text",
			},
			VirtPHY: VirtPHYSection{
				Enabled:     true,
				ULLevelDBm:  -80,
				DLLevelDBm:  -60,
				NoiseDB:     3,
				BER10k:      10,
				LossPercent: 2,
				Seed:        1,
			},
		},
	}
	// defaults are valid, this only derives the typed values
	_ = c.Validate()
	return c
}

func defaultChannels() []ChannelSection {
	return []ChannelSection{
		{Kind: "TCH/F", Mode: "speech-v1", Timeslot: 1},
		{Kind: "TCH/H", Mode: "speech-v1", Timeslot: 2, Subslot: 0},
		{Kind: "TCH/H", Mode: "speech-v1", Timeslot: 2, Subslot: 1},
		{Kind: "SDCCH/8", Mode: "signalling", Timeslot: 3, Subslot: 0},
		{Kind: "SDCCH/4", Mode: "signalling", Timeslot: 0, Subslot: 2},
	}
}

// Load loads configuration from the specified file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", c.filename, err)
	}
	if err := c.parse(data); err != nil {
		return fmt.Errorf("%s: %w", c.filename, err)
	}
	return nil
}

// LoadFromString loads configuration from a string (useful for testing)
func (c *Config) LoadFromString(data string) error {
	return c.parse([]byte(data))
}

func (c *Config) parse(data []byte) error {
	f := c.f
	f.Channels = nil
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if len(f.Channels) == 0 {
		f.Channels = defaultChannels()
	}

	c.f = f
	return c.Validate()
}

// Validate checks the settings and derives the typed values the getters return
func (c *Config) Validate() error {
	filter, err := power.ParseFilter(c.f.Power.Filter)
	if err != nil {
		return fmt.Errorf("power: %w", err)
	}
	params := power.Params{
		TargetDBm:      c.f.Power.TargetDBm,
		HysteresisDB:   c.f.Power.HysteresisDB,
		RaiseStepMaxDB: c.f.Power.RaiseStepMaxDB,
		LowerStepMaxDB: c.f.Power.LowerStepMaxDB,
		Filter:         filter,
		EWMAAlpha:      c.f.Power.EWMAAlpha,
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("power: %w", err)
	}
	if c.f.Power.MaxDB < 0 || c.f.Power.InitialDB < 0 || c.f.Power.InitialDB > c.f.Power.MaxDB {
		return fmt.Errorf("power: initial_db %d must be within 0..max_db (%d)", c.f.Power.InitialDB, c.f.Power.MaxDB)
	}

	if c.f.ACCH.Repetition.RxQual > 7 || c.f.ACCH.Overpower.RxQual > 7 {
		return fmt.Errorf("acch: rxqual thresholds must be within 0..7")
	}

	seen := make(map[string]bool, len(c.f.Channels))
	channels := make([]measurement.ChannelConfig, 0, len(c.f.Channels))
	for i, s := range c.f.Channels {
		ch, err := s.toChannelConfig()
		if err != nil {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
		name := ch.String()
		if seen[name] {
			return fmt.Errorf("channels[%d]: duplicate channel %s", i, name)
		}
		seen[name] = true
		channels = append(channels, ch)
	}

	if c.f.Database.Enabled && strings.TrimSpace(c.f.Database.Path) == "" {
		return fmt.Errorf("database: path is required when enabled")
	}
	if c.f.Metrics.Enabled && c.f.Metrics.Listen == "" {
		return fmt.Errorf("metrics: listen address is required when enabled")
	}
	switch strings.ToLower(c.f.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.f.Log.Format)
	}
	if c.f.VirtPHY.LossPercent < 0 || c.f.VirtPHY.LossPercent > 100 {
		return fmt.Errorf("virtphy: loss_percent %d out of range", c.f.VirtPHY.LossPercent)
	}
	if c.f.VirtPHY.NoiseDB < 0 {
		return fmt.Errorf("virtphy: noise_db must not be negative")
	}

	c.powerParams = params
	c.channels = channels
	return nil
}

func (s ChannelSection) toChannelConfig() (measurement.ChannelConfig, error) {
	kind, err := measurement.ParseKind(s.Kind)
	if err != nil {
		return measurement.ChannelConfig{}, err
	}
	mode := measurement.ModeSignalling
	if s.Mode != "" {
		if mode, err = measurement.ParseMode(s.Mode); err != nil {
			return measurement.ChannelConfig{}, err
		}
	}

	cfg := measurement.ChannelConfig{
		Kind:        kind,
		Mode:        mode,
		DataService: s.Data,
		Timeslot:    s.Timeslot,
		Subslot:     s.Subslot,
	}
	return cfg, cfg.Validate()
}

// BTS getters
func (c *Config) GetFilename() string { return c.filename }
func (c *Config) GetBTSName() string  { return c.f.BTS.Name }
func (c *Config) GetFrameClock() bool { return c.f.BTS.FrameClock }
func (c *Config) GetQueueDepth() int  { return c.f.BTS.QueueDepth }
func (c *Config) GetStatsInterval() time.Duration {
	return time.Duration(c.f.BTS.StatsSeconds) * time.Second
}

// Power getters
func (c *Config) GetPowerParams() power.Params { return c.powerParams }
func (c *Config) GetPowerState() power.State {
	return power.State{
		Current: c.f.Power.InitialDB,
		Max:     c.f.Power.MaxDB,
		Fixed:   c.f.Power.Fixed,
	}
}

// ACCH getters
func (c *Config) GetRepCaps() acch.RepCaps {
	r := c.f.ACCH.Repetition
	return acch.RepCaps{DLFacchCmd: r.DLFacchCmd, DLFacchAll: r.DLFacchAll, RxQual: r.RxQual}
}
func (c *Config) GetOverpowerCaps() acch.OverpowerCaps {
	o := c.f.ACCH.Overpower
	return acch.OverpowerCaps{OverpowerDB: o.DB, RxQual: o.RxQual}
}

// GetChannels returns the validated channel list
func (c *Config) GetChannels() []measurement.ChannelConfig {
	out := make([]measurement.ChannelConfig, len(c.channels))
	copy(out, c.channels)
	return out
}

// Database getters
func (c *Config) GetDatabaseEnabled() bool { return c.f.Database.Enabled }
func (c *Config) GetDatabasePath() string  { return c.f.Database.Path }
func (c *Config) GetDatabaseDebug() bool   { return c.f.Database.Debug }
func (c *Config) GetDatabaseRetention() time.Duration {
	return time.Duration(c.f.Database.RetentionHours) * time.Hour
}

// Metrics getters
func (c *Config) GetMetricsEnabled() bool  { return c.f.Metrics.Enabled }
func (c *Config) GetMetricsListen() string { return c.f.Metrics.Listen }

// Log getters
func (c *Config) GetLogLevel() string   { return c.f.Log.Level }
func (c *Config) GetLogFormat() string  { return c.f.Log.Format }
func (c *Config) GetLogAddSource() bool { return c.f.Log.AddSource }

// GetVirtPHY returns the synthetic radio settings
func (c *Config) GetVirtPHY() VirtPHYSection { return c.f.VirtPHY }
