package journal

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"
)

// RunRecord summarizes one replay or live session.
type RunRecord struct {
	RunID   string
	Created time.Time
	Symbol  string
	Dataset string
	Config  []byte

	Start time.Time
	End   time.Time

	Bars    int
	Signals int
	Trades  int
	Wins    int
	Losses  int

	StartEquity float64
	EndEquity   float64
	MaxDDPct    float64

	Notes []string
}

func (r RunRecord) NetPL() float64 { return r.EndEquity - r.StartEquity }

func (r RunRecord) ReturnPct() float64 {
	if r.StartEquity == 0 {
		return 0
	}
	return r.NetPL() / r.StartEquity * 100
}

func (r RunRecord) WinRate() float64 {
	if r.Trades == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Trades) * 100
}

var runOrgFuncs = template.FuncMap{
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

var runOrg = template.Must(template.New("run").Funcs(runOrgFuncs).Parse(RunOrgTemplate))

// FormatRunOrg renders the run as an org-mode entry.
func FormatRunOrg(r RunRecord) (string, error) {
	buf := new(bytes.Buffer)
	if err := runOrg.Execute(buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteRunOrg writes the run entry followed by its trades to path.
func WriteRunOrg(path string, r RunRecord, trades []TradeRecord) error {
	s, err := FormatRunOrg(r)
	if err != nil {
		return fmt.Errorf("render run %s: %w", r.RunID, err)
	}
	if len(trades) > 0 {
		s += "\n" + FormatTradesOrg(trades) + "\n"
	}
	return os.WriteFile(path, []byte(s), 0o644)
}

const RunOrgTemplate = `* RUN: SMC {{.Symbol}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:SYMBOL:      {{.Symbol}}
:DATASET:     {{if .Dataset}}{{.Dataset}}{{else}}(live){{end}}
:START:       {{.Start.Format "2006-01-02 15:04"}}
:END:         {{.End.Format "2006-01-02 15:04"}}
:START_EQ:    {{printf "%.2f" .StartEquity}}
:END_EQ:      {{printf "%.2f" .EndEquity}}
:NET_PL:      {{printf "%.2f" .NetPL}}
:RETURN_PCT:  {{printf "%.2f" .ReturnPct}}
:MAX_DD_PCT:  {{printf "%.2f" .MaxDDPct}}
:BARS:        {{.Bars}}
:SIGNALS:     {{.Signals}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" .WinRate}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:
{{- if .Config }}

** Configuration
#+begin_src yaml
{{printf "%s" .Config}}
#+end_src
{{- end }}
{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`

// FormatTradeOrg renders one trade as an org heading with a property drawer.
func FormatTradeOrg(t TradeRecord) string {
	heading := fmt.Sprintf("** Trade: %s %s (%s)", t.Symbol, t.Side, shortID(t.TradeID))
	open := t.OpenTime.UTC().Format(time.RFC3339)
	close := t.CloseTime.UTC().Format(time.RFC3339)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":TRADE_ID: %s\n", t.TradeID))
	b.WriteString(fmt.Sprintf(":SIGNAL_ID: %s\n", t.SignalID))
	b.WriteString(fmt.Sprintf(":SYMBOL: %s\n", t.Symbol))
	b.WriteString(fmt.Sprintf(":QUANTITY: %d\n", t.Quantity))
	b.WriteString(fmt.Sprintf(":ENTRY_PRICE: %.2f\n", t.EntryPrice))
	b.WriteString(fmt.Sprintf(":EXIT_PRICE: %.2f\n", t.ExitPrice))
	b.WriteString(fmt.Sprintf(":OPEN_TIME: %s\n", open))
	b.WriteString(fmt.Sprintf(":CLOSE_TIME: %s\n", close))
	b.WriteString(fmt.Sprintf(":REALIZED_PL: %.2f\n", t.RealizedPL))
	b.WriteString(fmt.Sprintf(":REASON: %s\n", t.Reason))
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
