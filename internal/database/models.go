package database

import (
	"fmt"
	"strings"
	"time"
)

// MeasurementReport is one forwarded measurement result. Uplink values
// come from the BTS aggregation, downlink values from the L3 report the
// MS sent on the SACCH.
type MeasurementReport struct {
	ID       uint64 `gorm:"primarykey;autoIncrement" json:"id"`
	Channel  string `gorm:"index:idx_reports_chan_time,priority:1;size:32;not null" json:"channel"`
	ChanNr   uint8  `json:"chan_nr"`
	ResultNr uint8  `json:"result_nr"`

	ULRxLevFull  uint8 `json:"ul_rxlev_full"`
	ULRxLevSub   uint8 `json:"ul_rxlev_sub"`
	ULRxQualFull uint8 `json:"ul_rxqual_full"`
	ULRxQualSub  uint8 `json:"ul_rxqual_sub"`

	BSPowerDB int `json:"bs_power_db"`

	L1Valid bool  `json:"l1_valid"`
	MSPower uint8 `json:"ms_power"`
	TA      uint8 `json:"ta"`
	SRR     bool  `json:"srr"`
	FPCEPC  bool  `json:"fpc_epc"`

	L3 []byte `json:"l3,omitempty"`

	// nil when no timing offset was known for the period
	MSTimingOffset *uint8 `json:"ms_timing_offset,omitempty"`

	ExtValid     bool   `json:"ext_valid"`
	TOA256Min    int16  `json:"toa256_min"`
	TOA256Max    int16  `json:"toa256_max"`
	TOA256StdDev uint32 `json:"toa256_std_dev"`

	CreatedAt time.Time `gorm:"index:idx_reports_chan_time,priority:2" json:"created_at"`
}

// TableName specifies the table name for GORM
func (MeasurementReport) TableName() string {
	return "measurement_reports"
}

// IsValid checks if the report has required fields
func (r MeasurementReport) IsValid() bool {
	return strings.TrimSpace(r.Channel) != ""
}

// String returns a formatted string representation
func (r MeasurementReport) String() string {
	result := fmt.Sprintf("%s #%d UL RXLEV %d/%d RXQUAL %d/%d, BS -%d dB",
		r.Channel, r.ResultNr,
		r.ULRxLevFull, r.ULRxLevSub, r.ULRxQualFull, r.ULRxQualSub,
		r.BSPowerDB)

	if r.L1Valid {
		result += fmt.Sprintf(" [MS PWR %d, TA %d]", r.MSPower, r.TA)
	}
	if r.MSTimingOffset != nil {
		result += fmt.Sprintf(" [MS TO %d]", *r.MSTimingOffset)
	}

	return result
}
