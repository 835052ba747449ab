package market

// Direction of a move, zone or trade: +1 bullish/long, -1 bearish/short.
type Direction int8

const (
	Neutral Direction = 0
	Bullish Direction = +1
	Bearish Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "neutral"
	}
}

// Opposite flips bullish and bearish; neutral stays neutral.
func (d Direction) Opposite() Direction {
	return -d
}

// Side returns the order side label used on the wire.
func (d Direction) Side() string {
	switch d {
	case Bullish:
		return "BUY"
	case Bearish:
		return "SELL"
	default:
		return ""
	}
}
