package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/signal"
	"github.com/rustyeddy/smc/zones"
)

type Violation struct {
	Code string
	Msg  string
}

// Decision is the outcome of a risk check. A rejection is a normal result,
// not an error. Halt asks the execution machine to stop trading until the
// next session rollover.
type Decision struct {
	Allowed    bool
	Halt       bool
	Violations []Violation

	PlannedRisk    decimal.Decimal
	PlannedRiskPct float64
	PlannedRR      float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Has reports whether a violation with code was recorded.
func (d Decision) Has(code string) bool {
	for _, v := range d.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	parts := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		parts[i] = v.Code + ": " + v.Msg
	}
	return strings.Join(parts, "; ")
}

type Manager struct {
	policy Policy
	inst   market.Instrument
}

func NewManager(p Policy, inst market.Instrument) *Manager {
	return &Manager{policy: p, inst: inst}
}

func (m *Manager) Policy() Policy { return m.policy }

// DailyLimitBreached reports whether today's realized loss has reached the
// daily limit, measured against equity at the last rollover.
func (m *Manager) DailyLimitBreached(acct Account) bool {
	base := acct.StartEquity
	if !base.IsPositive() {
		base = acct.Equity
	}
	limit := percentOf(base, m.policy.DailyLossPercent).Neg()
	return acct.RealizedPnLToday.LessThanOrEqual(limit)
}

// Stop places the protective stop beyond the signal's invalidation level.
func (m *Manager) Stop(sig signal.TradeSignal) float64 {
	buf := m.policy.StopBufferPoints
	if sig.Direction == market.Bearish {
		return m.inst.RoundToTick(sig.Invalidation + buf)
	}
	return m.inst.RoundToTick(sig.Invalidation - buf)
}

// Target aims at the nearest opposing liquidity pool beyond entry when it pays
// at least MinRR. Otherwise it falls back to a fixed multiple of risk.
func (m *Manager) Target(dir market.Direction, entry, stop float64, pools []zones.Zone) (float64, string) {
	best, ok := 0.0, false
	for _, z := range pools {
		if z.Kind != zones.LiquidityPool || z.State != zones.Active || z.Direction != dir {
			continue
		}
		switch dir {
		case market.Bullish:
			if z.Low > entry && (!ok || z.Low < best) {
				best, ok = z.Low, true
			}
		case market.Bearish:
			if z.High < entry && (!ok || z.High > best) {
				best, ok = z.High, true
			}
		}
	}
	if ok && RR(entry, stop, best) >= m.policy.MinRR {
		return m.inst.RoundToTick(best), "liquidity_pool"
	}

	dist := m.policy.RewardRatio * abs(entry-stop)
	if dist < m.policy.MinTargetPoints {
		dist = m.policy.MinTargetPoints
	}
	return m.inst.RoundToTick(entry + float64(dir)*dist), "reward_ratio"
}

// Evaluate sizes sig at entry against acct. pools are the active zones; the
// liquidity pools among them are target candidates.
func (m *Manager) Evaluate(sig signal.TradeSignal, entry float64, acct Account, pools []zones.Zone) (SizedOrder, Decision) {
	p := m.policy
	d := Decision{Allowed: true}
	entry = m.inst.RoundToTick(entry)

	if acct.Equity.LessThan(decimal.NewFromFloat(p.MinEquity)) {
		d.add("EQUITY_TOO_LOW", fmt.Sprintf("equity %s below minimum %.2f", acct.Equity.StringFixed(2), p.MinEquity))
	}
	if m.DailyLimitBreached(acct) {
		d.Halt = true
		d.add("DAILY_LOSS_LIMIT", fmt.Sprintf("realized today %s breaches %.2f%% limit",
			acct.RealizedPnLToday.StringFixed(2), p.DailyLossPercent))
	}

	stop := m.Stop(sig)
	if sig.Direction == market.Neutral || float64(sig.Direction)*(entry-stop) <= 0 {
		d.add("NO_STOP_OR_ENTRY", fmt.Sprintf("stop %.2f not behind entry %.2f", stop, entry))
		return SizedOrder{}, d
	}
	target, source := m.Target(sig.Direction, entry, stop, pools)

	size := Calculate(Inputs{
		Equity:       acct.Equity,
		RiskPercent:  p.RiskPercent,
		EntryPrice:   entry,
		StopPrice:    stop,
		Instrument:   m.inst,
		MaxContracts: p.MaxContracts,
	})
	if size.Contracts < 1 {
		d.add("SIZE_TOO_SMALL", fmt.Sprintf("budget %s covers less than one contract at %s",
			size.RiskBudget.StringFixed(2), size.RiskPerUnit.StringFixed(2)))
	}

	d.PlannedRisk = PlannedRisk(m.inst, size.Contracts, entry, stop)
	d.PlannedRiskPct = RiskPct(d.PlannedRisk, acct.Equity)
	d.PlannedRR = RR(entry, stop, target)

	if maxRisk := percentOf(acct.Equity, p.MaxRiskPercent); d.PlannedRisk.GreaterThan(maxRisk) {
		d.add("RISK_TOO_HIGH", fmt.Sprintf("planned risk %.2f%% exceeds max %.2f%%", d.PlannedRiskPct, p.MaxRiskPercent))
	}
	if p.MinRR > 0 && d.PlannedRR < p.MinRR {
		d.add("RR_TOO_LOW", fmt.Sprintf("RR %.2f below minimum %.2f", d.PlannedRR, p.MinRR))
	}

	if !d.Allowed {
		return SizedOrder{}, d
	}
	return SizedOrder{
		SignalID:     sig.ID,
		Direction:    sig.Direction,
		Quantity:     size.Contracts,
		EntryPrice:   entry,
		StopPrice:    stop,
		TargetPrice:  target,
		TargetSource: source,
		RiskAmount:   d.PlannedRisk,
		CreatedAt:    sig.GeneratedAt,
	}, d
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
