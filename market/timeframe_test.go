package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Timeframe
		err  bool
	}{
		{"M1", M1, false},
		{"m15", M15, false},
		{" H4 ", H4, false},
		{"D1", D1, false},
		{"W1", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTimeframe(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, time.Duration(tt.want)*time.Second, got.Duration())
		})
	}
}

func TestTimeframeText(t *testing.T) {
	t.Parallel()

	b, err := H1.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "H1", string(b))

	var tf Timeframe
	require.NoError(t, tf.UnmarshalText([]byte("M5")))
	assert.Equal(t, M5, tf)
}

func TestInstrumentMath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 20000.25, MNQ.RoundToTick(20000.3))
	assert.True(t, decimal.NewFromInt(100).Equal(MNQ.CashPerContract(-50)))
	assert.True(t, decimal.NewFromInt(-200).Equal(MNQ.PnL(Bullish, 2, 20000, 19950)))
	assert.True(t, decimal.NewFromInt(200).Equal(MNQ.PnL(Bearish, 2, 20000, 19950)))
}

func TestCMEGlobexOpen(t *testing.T) {
	t.Parallel()

	c := NewCMEGlobex()
	chi, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	assert.True(t, c.Open(time.Date(2025, 3, 4, 10, 0, 0, 0, chi)))
	assert.False(t, c.Open(time.Date(2025, 3, 4, 16, 30, 0, 0, chi)))
	assert.False(t, c.Open(time.Date(2025, 3, 8, 12, 0, 0, 0, chi)))  // Saturday
	assert.False(t, c.Open(time.Date(2025, 3, 9, 16, 59, 0, 0, chi))) // Sunday before open
	assert.True(t, c.Open(time.Date(2025, 3, 9, 17, 0, 0, 0, chi)))
	assert.False(t, c.Open(time.Date(2025, 3, 7, 16, 0, 0, 0, chi))) // Friday close
}

func TestBarValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, flat(M15, 0).Validate())
	assert.Error(t, Bar{}.Validate())
	b := flat(M15, 0)
	b.Close = 200
	assert.Error(t, b.Validate())
	assert.Equal(t, Bullish, bar(M15, 0, 1, 2, 0, 1.5).Direction())
	assert.Equal(t, t0.Add(15*time.Minute), flat(M15, 0).CloseTime())
}
