package market

import (
	"fmt"
	"time"
)

// FaultKind classifies a data-quality problem in the bar stream.
type FaultKind string

const (
	FaultGap        FaultKind = "gap"
	FaultOutOfOrder FaultKind = "out_of_order"
	FaultDuplicate  FaultKind = "duplicate"
	FaultInvalid    FaultKind = "invalid"
	FaultUnknownTF  FaultKind = "unknown_timeframe"
	FaultResynced   FaultKind = "resynced"
)

// DataFault is returned by the Aggregator when a bar cannot be appended in
// sequence. It never stops the pipeline; it pauses the affected timeframe.
type DataFault struct {
	Kind      FaultKind
	Timeframe Timeframe
	Expected  time.Time // next open time the series was waiting for
	Got       time.Time
	Missing   int // bars missing for FaultGap
	Msg       string
}

func (f *DataFault) Error() string {
	switch f.Kind {
	case FaultGap:
		return fmt.Sprintf("data fault %s: %s expected bar at %s, got %s (%d missing)",
			f.Kind, f.Timeframe, f.Expected.Format(time.RFC3339), f.Got.Format(time.RFC3339), f.Missing)
	case FaultOutOfOrder, FaultDuplicate:
		return fmt.Sprintf("data fault %s: %s bar at %s not after %s",
			f.Kind, f.Timeframe, f.Got.Format(time.RFC3339), f.Expected.Format(time.RFC3339))
	default:
		return fmt.Sprintf("data fault %s: %s %s", f.Kind, f.Timeframe, f.Msg)
	}
}
