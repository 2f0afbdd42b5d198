package backhaul

import (
	"github.com/dbehnke/gsmmeas/internal/database"
)

// StoreSink persists reports in the report store
type StoreSink struct {
	repo *database.ReportRepository
}

// NewStoreSink creates a sink writing to repo
func NewStoreSink(repo *database.ReportRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Deliver saves the report
func (s *StoreSink) Deliver(r *Report) error {
	rec := ToRecord(r)
	return s.repo.Save(&rec)
}

// ToRecord flattens a report into its database row
func ToRecord(r *Report) database.MeasurementReport {
	rec := database.MeasurementReport{
		Channel:      r.Channel,
		ChanNr:       r.ChanNr,
		ResultNr:     r.ResultNr,
		ULRxLevFull:  r.ULFull.RxLev,
		ULRxLevSub:   r.ULSub.RxLev,
		ULRxQualFull: r.ULFull.RxQual,
		ULRxQualSub:  r.ULSub.RxQual,
		BSPowerDB:    r.BSPowerDB,
		CreatedAt:    r.Timestamp,
	}

	if r.L1 != nil {
		rec.L1Valid = true
		rec.MSPower = r.L1.MSPower
		rec.TA = r.L1.TA
		rec.SRR = r.L1.SRRSRO
		rec.FPCEPC = r.L1.FPCEPC
	}
	if len(r.L3) > 0 {
		rec.L3 = append([]byte(nil), r.L3...)
	}
	if r.MSTimingOffset != nil {
		offs := *r.MSTimingOffset
		rec.MSTimingOffset = &offs
	}
	if r.Ext != nil && r.Ext.Valid {
		rec.ExtValid = true
		rec.TOA256Min = r.Ext.TOA256Min
		rec.TOA256Max = r.Ext.TOA256Max
		rec.TOA256StdDev = r.Ext.TOA256StdDev
	}

	return rec
}
