package models

import (
	"math"

	"hftsim/internal/depth"
	"hftsim/pkg/types"
)

// QueueModel estimates an order's position in the resting queue at its price
// level and predicts whether a trade print advanced the queue past it. The
// position state lives in Order.Queue; the model itself is stateless.
type QueueModel interface {
	// NewOrder initializes the order's queue position from the current
	// depth at its level.
	NewOrder(order *types.Order, d depth.MarketDepth)
	// Trade updates the position when a print of qty hits the order's level.
	Trade(order *types.Order, qty float64, d depth.MarketDepth)
	// Depth updates the position when the level's resting quantity changes
	// for reasons other than trades (placements, cancels, snapshot diffs).
	Depth(order *types.Order, prevQty, newQty float64, d depth.MarketDepth)
	// IsFilled reports whether the queue has advanced past the order.
	IsFilled(order *types.Order, d depth.MarketDepth) bool
}

func levelQty(order *types.Order, d depth.MarketDepth) float64 {
	if order.Side == types.Buy {
		return d.BidQtyAt(order.PriceTick)
	}
	return d.AskQtyAt(order.PriceTick)
}

// ————————————————————————————————————————————————————————————————————————
// Risk-averse model
// ————————————————————————————————————————————————————————————————————————

// RiskAverseQueue is the conservative model: every print at the level is
// assumed to consume volume ahead of the order, while quantity decreases only
// lower the estimate when the level shrinks below it (cancels are assumed to
// come from behind), so the estimate never advances faster than the worst
// case.
type RiskAverseQueue struct{}

func (RiskAverseQueue) NewOrder(order *types.Order, d depth.MarketDepth) {
	order.Queue = levelQty(order, d)
}

func (RiskAverseQueue) Trade(order *types.Order, qty float64, _ depth.MarketDepth) {
	order.Queue = order.Queue.(float64) - qty
}

func (RiskAverseQueue) Depth(order *types.Order, _, newQty float64, _ depth.MarketDepth) {
	if q := order.Queue.(float64); newQty < q {
		order.Queue = newQty
	}
}

func (RiskAverseQueue) IsFilled(order *types.Order, _ depth.MarketDepth) bool {
	return order.Queue.(float64) <= 0
}

// ————————————————————————————————————————————————————————————————————————
// Probabilistic model
// ————————————————————————————————————————————————————————————————————————

// QueuePos is the queue estimate of the probabilistic model: resting volume
// ahead of the order and volume that joined behind it.
type QueuePos struct {
	Ahead  float64
	Behind float64
}

// FrontProb maps the behind-share x = behind/(ahead+behind) in [0,1] to the
// fraction of a print allocated behind the order. Implementations are
// monotone with f(0)=0 and f(1)=1.
type FrontProb interface {
	Prob(x float64) float64
}

// PowerProb is f(x) = x^n.
type PowerProb struct{ N float64 }

func (p PowerProb) Prob(x float64) float64 { return math.Pow(x, p.N) }

// LogProb is f(x) = log(1+c*x) / log(1+c).
type LogProb struct{ C float64 }

func (p LogProb) Prob(x float64) float64 {
	return math.Log1p(p.C*x) / math.Log1p(p.C)
}

// PowerProb3 is f(x) = 1 - (1-x)^n.
type PowerProb3 struct{ N float64 }

func (p PowerProb3) Prob(x float64) float64 { return 1 - math.Pow(1-x, p.N) }

// ProbQueue models the queue position as an (ahead, behind) volume pair.
// When a print of volume v hits the level, the share f(behind/(ahead+behind))
// is attributed behind the order and the rest decrements the volume ahead.
// Depth changes re-anchor the pair against the observed level quantity:
// decreases below the ahead estimate must have come from ahead, and behind is
// whatever of the level is not ahead.
type ProbQueue struct {
	f FrontProb
}

// NewProbQueue builds the probabilistic model around a front-probability
// function.
func NewProbQueue(f FrontProb) *ProbQueue { return &ProbQueue{f: f} }

func (m *ProbQueue) NewOrder(order *types.Order, d depth.MarketDepth) {
	order.Queue = &QueuePos{Ahead: levelQty(order, d)}
}

func (m *ProbQueue) Trade(order *types.Order, qty float64, _ depth.MarketDepth) {
	q := order.Queue.(*QueuePos)
	total := q.Ahead + q.Behind
	if total <= 0 {
		q.Ahead = 0
		return
	}
	prob := m.f.Prob(q.Behind / total)
	q.Ahead = math.Max(q.Ahead-(1-prob)*qty, 0)
	q.Behind = math.Max(q.Behind-prob*qty, 0)
}

func (m *ProbQueue) Depth(order *types.Order, _, newQty float64, _ depth.MarketDepth) {
	q := order.Queue.(*QueuePos)
	q.Ahead = math.Min(q.Ahead, newQty)
	q.Behind = math.Max(newQty-q.Ahead, 0)
}

func (m *ProbQueue) IsFilled(order *types.Order, _ depth.MarketDepth) bool {
	return order.Queue.(*QueuePos).Ahead <= 0
}
