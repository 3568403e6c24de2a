package backtest

import "hftsim/pkg/types"

// AssetType determines how a fill's notional amount and the account equity
// are computed from price and quantity.
type AssetType interface {
	// Amount is the notional of qty executed at price.
	Amount(price, qty float64) float64
	// Equity values the account at the given mark price.
	Equity(price, balance, position, fee float64) float64
}

// LinearAsset settles in the quote currency: notional = size * price * qty.
type LinearAsset struct {
	ContractSize float64
}

func (a LinearAsset) Amount(price, qty float64) float64 {
	return a.ContractSize * price * qty
}

func (a LinearAsset) Equity(price, balance, position, fee float64) float64 {
	return balance + a.ContractSize*position*price - fee
}

// InverseAsset settles in the base currency: notional = size * qty / price.
type InverseAsset struct {
	ContractSize float64
}

func (a InverseAsset) Amount(price, qty float64) float64 {
	return a.ContractSize * qty / price
}

func (a InverseAsset) Equity(price, balance, position, fee float64) float64 {
	return -balance - a.ContractSize*position/price - fee
}

// QuantoAsset settles in a third currency at a fixed multiplier per point.
type QuantoAsset struct {
	Multiplier float64
}

func (a QuantoAsset) Amount(price, qty float64) float64 {
	return a.Multiplier * price * qty
}

func (a QuantoAsset) Equity(price, balance, position, fee float64) float64 {
	return balance + a.Multiplier*position*price - fee
}

// State accumulates cash, position, fees, and trade counters over fills.
type State struct {
	Position    float64
	Balance     float64
	Fee         float64
	TradeNum    int64
	TradeQty    float64
	TradeAmount float64

	MakerFee float64
	TakerFee float64

	asset AssetType
}

// NewState creates an empty account with the given fee schedule.
func NewState(makerFee, takerFee float64, asset AssetType) *State {
	return &State{MakerFee: makerFee, TakerFee: takerFee, asset: asset}
}

// ApplyFill books an executed order into the account.
func (s *State) ApplyFill(order *types.Order) {
	feeRate := s.TakerFee
	if order.Maker {
		feeRate = s.MakerFee
	}
	amount := s.asset.Amount(order.ExecPrice(), order.ExecQty)
	if order.Side == types.Buy {
		s.Position += order.ExecQty
		s.Balance -= amount
	} else {
		s.Position -= order.ExecQty
		s.Balance += amount
	}
	s.Fee += amount * feeRate
	s.TradeNum++
	s.TradeQty += order.ExecQty
	s.TradeAmount += amount
}

// Values returns a snapshot of the cumulative state.
func (s *State) Values() types.StateValues {
	return types.StateValues{
		Position:    s.Position,
		Balance:     s.Balance,
		Fee:         s.Fee,
		TradeNum:    s.TradeNum,
		TradeQty:    s.TradeQty,
		TradeAmount: s.TradeAmount,
	}
}

// Equity values the account at the given mark price.
func (s *State) Equity(price float64) float64 {
	return s.asset.Equity(price, s.Balance, s.Position, s.Fee)
}
