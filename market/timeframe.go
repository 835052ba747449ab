package market

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a bar duration in seconds.
type Timeframe int32

const (
	M1  Timeframe = 60
	M5  Timeframe = 300
	M15 Timeframe = 900
	M30 Timeframe = 1800
	H1  Timeframe = 3600
	H4  Timeframe = 14400
	D1  Timeframe = 86400
)

// Duration returns the timeframe as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Second
}

func (tf Timeframe) String() string {
	s, err := SecondsToTFString(int32(tf))
	if err != nil {
		return fmt.Sprintf("TF(%d)", int32(tf))
	}
	return s
}

// MarshalText lets timeframes appear as "M15" in YAML, JSON and map keys.
func (tf Timeframe) MarshalText() ([]byte, error) {
	s, err := SecondsToTFString(int32(tf))
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func (tf *Timeframe) UnmarshalText(b []byte) error {
	v, err := ParseTimeframe(string(b))
	if err != nil {
		return err
	}
	*tf = v
	return nil
}

// ParseTimeframe accepts the usual M/H/D notation ("M15", "H1", "D1").
func ParseTimeframe(s string) (Timeframe, error) {
	sec, err := TFStringToSeconds(strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return 0, err
	}
	return Timeframe(sec), nil
}

func SecondsToTFString(sec int32) (string, error) {
	if sec <= 0 {
		return "", fmt.Errorf("invalid timeframe seconds: %d", sec)
	}

	// Minutes
	if sec < 3600 && sec%60 == 0 {
		return fmt.Sprintf("M%d", sec/60), nil
	}

	// Hours
	if sec < 86400 && sec%3600 == 0 {
		return fmt.Sprintf("H%d", sec/3600), nil
	}

	// Days
	if sec%86400 == 0 {
		return fmt.Sprintf("D%d", sec/86400), nil
	}

	return "", fmt.Errorf("cannot map timeframe: %d seconds", sec)
}

func TFStringToSeconds(tf string) (int32, error) {
	switch tf {
	case "M1":
		return 60, nil
	case "M3":
		return 180, nil
	case "M5":
		return 300, nil
	case "M15":
		return 900, nil
	case "M30":
		return 1800, nil
	case "H1":
		return 3600, nil
	case "H2":
		return 7200, nil
	case "H4":
		return 14400, nil
	case "D1":
		return 86400, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe string: %s", tf)
	}
}
