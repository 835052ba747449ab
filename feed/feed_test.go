package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/smc/market"
)

var t0 = time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseBarRow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		row     []string
		wantOk  bool
		wantErr bool
		want    market.Bar
	}{
		{
			name:   "rfc3339 with volume",
			row:    []string{"2025-03-04T14:00:00Z", "20000", "20010", "19990", "20005", "12"},
			wantOk: true,
			want:   market.Bar{Timeframe: market.M1, Time: t0, Open: 20000, High: 20010, Low: 19990, Close: 20005, Volume: 12},
		},
		{
			name:   "unix seconds without volume",
			row:    []string{"1741096800", "20000", "20010", "19990", "20005"},
			wantOk: true,
			want:   market.Bar{Timeframe: market.M1, Time: t0, Open: 20000, High: 20010, Low: 19990, Close: 20005},
		},
		{
			name:   "whitespace and empty volume",
			row:    []string{" 2025-03-04T14:00:00Z ", " 20000 ", "20010", "19990", "20005", ""},
			wantOk: true,
			want:   market.Bar{Timeframe: market.M1, Time: t0, Open: 20000, High: 20010, Low: 19990, Close: 20005},
		},
		{name: "too few columns", row: []string{"2025-03-04T14:00:00Z", "1", "2", "0"}},
		{name: "empty time", row: []string{"", "1", "2", "0", "1"}},
		{name: "bad time", row: []string{"yesterday", "1", "2", "0", "1"}, wantErr: true},
		{name: "bad number", row: []string{"2025-03-04T14:00:00Z", "x", "2", "0", "1"}, wantErr: true},
		{name: "high below low", row: []string{"2025-03-04T14:00:00Z", "1", "0", "2", "1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := parseBarRow(tt.row, market.M1)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOk, ok)
			if tt.wantOk {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCSVReadsRangeWithHeader(t *testing.T) {
	path := writeFile(t, `time,open,high,low,close,volume
2025-03-04T14:00:00Z,1,2,0.5,1.5,10

2025-03-04T14:01:00Z,1.5,2,1,1.75,11
2025-03-04T14:02:00Z,1.75,3,1.5,2.5,12
`)
	f, err := NewCSV(path, market.M1, t0.Add(time.Minute), t0.Add(2*time.Minute))
	require.NoError(t, err)
	defer f.Close()

	ctx := context.Background()
	b, ok, err := f.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), b.Time)
	assert.Equal(t, 1.75, b.Close)

	_, ok, err = f.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCSVReportsLine(t *testing.T) {
	path := writeFile(t, "2025-03-04T14:00:00Z,1,2,0.5,1.5\n2025-03-04T14:01:00Z,1,oops,0.5,1.5\n")
	f, err := NewCSV(path, market.M1, time.Time{}, time.Time{})
	require.NoError(t, err)
	defer f.Close()

	_, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = f.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestDecodeBar(t *testing.T) {
	b := market.Bar{Timeframe: market.M5, Time: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3}
	body, err := EncodeBar("MNQ", b)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"timeframe":"M5"`)

	got, err := DecodeBar(body)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = DecodeBar([]byte(`{"timeframe":"M5","time":"2025-03-04T14:00:00Z","open":1,"high":0,"low":2,"close":1}`))
	assert.Error(t, err)
	_, err = DecodeBar([]byte(`{"timeframe":"M7"}`))
	assert.Error(t, err)
}

type acker struct {
	acked    []uint64
	rejected []uint64
}

func (a *acker) Ack(tag uint64, multiple bool) error {
	a.acked = append(a.acked, tag)
	return nil
}

func (a *acker) Nack(tag uint64, multiple, requeue bool) error {
	a.rejected = append(a.rejected, tag)
	return nil
}

func (a *acker) Reject(tag uint64, requeue bool) error {
	a.rejected = append(a.rejected, tag)
	return nil
}

func TestAMQPAcksGoodAndRejectsBad(t *testing.T) {
	ack := &acker{}
	msgs := make(chan amqp091.Delivery, 3)
	good, err := EncodeBar("MNQ", market.Bar{Timeframe: market.M1, Time: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5})
	require.NoError(t, err)
	msgs <- amqp091.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("not json")}
	msgs <- amqp091.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: good}
	close(msgs)

	a := newAMQP(msgs, slogDiscard())
	b, ok, err := a.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0, b.Time)
	assert.Equal(t, []uint64{2}, ack.acked)
	assert.Equal(t, []uint64{1}, ack.rejected)

	_, ok, err = a.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAMQPBarsStopsOnCancel(t *testing.T) {
	msgs := make(chan amqp091.Delivery)
	a := newAMQP(msgs, slogDiscard())
	ctx, cancel := context.WithCancel(context.Background())
	out := a.Bars(ctx)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("bar channel not closed after cancel")
	}
}

func TestSlice(t *testing.T) {
	s := NewSlice([]market.Bar{{Time: t0}, {Time: t0.Add(time.Minute)}})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, ok, err := s.Next(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	_, ok, err := s.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
