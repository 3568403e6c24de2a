package backtest

import (
	"math"
	"path/filepath"
	"testing"

	"hftsim/internal/depth"
	"hftsim/internal/models"
	"hftsim/pkg/types"
)

// sim bundles a wired simulator for scenario tests. Local and exchange each
// get their own depth and state; the two buses are cross-connected.
type sim struct {
	bt    *Backtest
	local *Local
	exch  *Exchange
}

type simParams struct {
	entryLat int64
	respLat  int64
	queue    models.QueueModel
	makerFee float64
	takerFee float64
}

func defaultParams() simParams {
	return simParams{
		entryLat: 100,
		respLat:  100,
		queue:    models.NewProbQueue(models.PowerProb{N: 1}),
	}
}

func newSim(t *testing.T, rows []types.Row, p simParams) *sim {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.evt")
	if err := WriteEventFile(path, rows); err != nil {
		t.Fatal(err)
	}

	reader := NewReader([]string{path})
	lat := models.ConstantLatency{EntryLatency: p.entryLat, ResponseLatency: p.respLat}
	toExch := NewOrderBus()
	toLocal := NewOrderBus()

	local := NewLocal(
		reader,
		depth.NewHashMapDepth(0.1, 0.001),
		NewState(p.makerFee, p.takerFee, LinearAsset{ContractSize: 1}),
		lat, 64, toExch, toLocal,
	)
	exch := NewExchange(
		reader.Clone(),
		depth.NewHashMapDepth(0.1, 0.001),
		NewState(p.makerFee, p.takerFee, LinearAsset{ContractSize: 1}),
		lat, p.queue, toLocal, toExch,
	)

	bt, err := New(local, exch)
	if err != nil {
		t.Fatal(err)
	}
	return &sim{bt: bt, local: local, exch: exch}
}

func bidRow(exchTS int64, px float64, qty float32) types.Row {
	return types.Row{
		Ev:      types.LocalBidDepthEvent | types.ExchBidDepthEvent,
		ExchTS:  exchTS,
		LocalTS: exchTS + 100,
		Px:      px,
		Qty:     qty,
	}
}

func askRow(exchTS int64, px float64, qty float32) types.Row {
	return types.Row{
		Ev:      types.LocalAskDepthEvent | types.ExchAskDepthEvent,
		ExchTS:  exchTS,
		LocalTS: exchTS + 100,
		Px:      px,
		Qty:     qty,
	}
}

func sellTradeRow(exchTS int64, px float64, qty float32) types.Row {
	return types.Row{
		Ev:      types.ExchSellTradeEvent | types.LocalTradeEvent,
		ExchTS:  exchTS,
		LocalTS: exchTS + 100,
		Px:      px,
		Qty:     qty,
	}
}

func buyTradeRow(exchTS int64, px float64, qty float32) types.Row {
	return types.Row{
		Ev:      types.ExchBuyTradeEvent | types.LocalTradeEvent,
		ExchTS:  exchTS,
		LocalTS: exchTS + 100,
		Px:      px,
		Qty:     qty,
	}
}

// trailing keeps both data streams alive well past every delivery a scenario
// produces, so the run never hits end-of-data mid-assertion.
func trailing(fromTS int64) []types.Row {
	return []types.Row{
		bidRow(fromTS, 90.0, 1),
		bidRow(fromTS+1000, 90.0, 2),
		bidRow(fromTS+2000, 90.0, 3),
	}
}

func approx(got, want, tol float64) bool { return math.Abs(got-want) <= tol }

// Scenario: a resting buy is filled as maker once prints at its level consume
// the estimated queue ahead of it.
func TestMakerFillAfterQueueConsumed(t *testing.T) {
	t.Parallel()
	rows := []types.Row{
		bidRow(1000, 100.0, 5),
		bidRow(1000, 99.9, 5),
		askRow(1000, 100.1, 5),
		askRow(1000, 100.2, 5),
		askRow(2000, 100.1, 0), // best ask lifts to 100.2; no walk on worsening
		bidRow(2500, 100.0, 5),
		sellTradeRow(3000, 99.9, 10),
	}
	rows = append(rows, trailing(8000)...)
	s := newSim(t, rows, defaultParams())

	if ok, err := s.bt.SubmitBuyOrder(1, 99.9, 1, types.GTC, types.Limit, true); err != nil || !ok {
		t.Fatalf("SubmitBuyOrder = (%v, %v)", ok, err)
	}
	if got := s.bt.Orders()[1].Status; got != types.StatusNew {
		t.Fatalf("status after ack = %v, want NEW", got)
	}

	if _, err := s.bt.Elapse(5_000); err != nil {
		t.Fatal(err)
	}

	order := s.bt.Orders()[1]
	if order.Status != types.StatusFilled || !order.Maker {
		t.Errorf("order = (%v, maker %v), want (FILLED, true)", order.Status, order.Maker)
	}
	if !approx(order.ExecPrice(), 99.9, 1e-6) {
		t.Errorf("ExecPrice = %v, want 99.9", order.ExecPrice())
	}
	sv := s.bt.StateValues()
	if sv.Position != 1 {
		t.Errorf("Position = %v, want 1", sv.Position)
	}
	if !approx(sv.Balance, -99.9, 1e-6) {
		t.Errorf("Balance = %v, want -99.9", sv.Balance)
	}
	if sv.Fee != 0 {
		t.Errorf("Fee = %v, want 0 (maker)", sv.Fee)
	}
	if len(s.bt.Trades()) == 0 {
		t.Error("trade buffer empty, want captured print")
	}
}

// Scenario: a post-only order that would cross expires instead of taking.
func TestGTXCrossingExpires(t *testing.T) {
	t.Parallel()
	rows := []types.Row{
		bidRow(1000, 100.0, 5),
		askRow(1000, 100.1, 5),
	}
	rows = append(rows, trailing(8000)...)
	s := newSim(t, rows, defaultParams())

	if _, err := s.bt.SubmitSellOrder(2, 100.0, 1, types.GTX, types.Limit, true); err != nil {
		t.Fatal(err)
	}
	order := s.bt.Orders()[2]
	if order.Status != types.StatusExpired {
		t.Errorf("status = %v, want EXPIRED", order.Status)
	}
	if got := s.bt.Position(); got != 0 {
		t.Errorf("Position = %v, want 0", got)
	}
}

// Scenario: a marketable limit takes the opposing best as taker.
func TestCrossingLimitFillsAsTaker(t *testing.T) {
	t.Parallel()
	rows := []types.Row{
		bidRow(1000, 100.0, 5),
		askRow(1000, 100.1, 5),
	}
	rows = append(rows, trailing(8000)...)
	p := defaultParams()
	p.takerFee = 0.0002
	s := newSim(t, rows, p)

	if _, err := s.bt.SubmitBuyOrder(3, 100.2, 2, types.IOC, types.Limit, true); err != nil {
		t.Fatal(err)
	}

	order := s.bt.Orders()[3]
	if order.Status != types.StatusFilled || order.Maker {
		t.Errorf("order = (%v, maker %v), want (FILLED, false)", order.Status, order.Maker)
	}
	if !approx(order.ExecPrice(), 100.1, 1e-6) {
		t.Errorf("ExecPrice = %v, want 100.1", order.ExecPrice())
	}
	sv := s.bt.StateValues()
	if sv.Position != 2 {
		t.Errorf("Position = %v, want 2", sv.Position)
	}
	if !approx(sv.Fee, 2*100.1*0.0002, 1e-9) {
		t.Errorf("Fee = %v, want %v", sv.Fee, 2*100.1*0.0002)
	}
}

// Scenario: a cancel racing a fill loses at the exchange; the stale cancel
// response is swallowed and the local order stays filled.
func TestCancelVersusFillRace(t *testing.T) {
	t.Parallel()
	const ms = int64(1_000_000)
	rows := []types.Row{
		{Ev: types.LocalBidDepthEvent | types.ExchBidDepthEvent, ExchTS: 0, LocalTS: 0, Px: 100.0, Qty: 1},
		{Ev: types.LocalAskDepthEvent | types.ExchAskDepthEvent, ExchTS: 0, LocalTS: 0, Px: 100.2, Qty: 1},
		sellTradeRow(2*ms, 100.0, 5),
	}
	rows = append(rows, trailing(8*ms)...)
	p := defaultParams()
	p.entryLat, p.respLat = ms, ms
	s := newSim(t, rows, p)

	if _, err := s.bt.SubmitBuyOrder(4, 100.0, 1, types.GTC, types.Limit, false); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.bt.Elapse(2 * ms); err != nil || !ok {
		t.Fatalf("Elapse = (%v, %v)", ok, err)
	}

	// The fill happened at the exchange at t=2ms; the local side does not
	// know yet and issues a cancel.
	if _, err := s.bt.Cancel(4, false); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.bt.Elapse(3 * ms); err != nil || !ok {
		t.Fatalf("Elapse = (%v, %v)", ok, err)
	}

	order := s.bt.Orders()[4]
	if order.Status != types.StatusFilled {
		t.Errorf("final status = %v, want FILLED (cancel response swallowed)", order.Status)
	}
	sv := s.bt.StateValues()
	if sv.Position != 1 || sv.TradeNum != 1 {
		t.Errorf("state = (pos %v, trades %d), want (1, 1)", sv.Position, sv.TradeNum)
	}
	if s.local.FrontRecvTimestamp() != types.TimestampMax {
		t.Error("stale cancel response was delivered, want swallowed at the exchange")
	}
}

// Scenario: an improving best bid sweeps through resting sells, filling each
// as maker at its own tick.
func TestBestBidImprovementSweepsRestingSells(t *testing.T) {
	t.Parallel()
	rows := []types.Row{
		bidRow(1000, 99.9, 5),
		askRow(1000, 100.0, 1),
		askRow(1000, 100.1, 1),
		bidRow(3000, 100.1, 1),
	}
	rows = append(rows, trailing(8000)...)
	s := newSim(t, rows, defaultParams())

	if _, err := s.bt.SubmitSellOrder(5, 100.0, 1, types.GTC, types.Limit, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.bt.SubmitSellOrder(6, 100.1, 1, types.GTC, types.Limit, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.bt.Elapse(5_000); err != nil {
		t.Fatal(err)
	}

	for id, wantPx := range map[int64]float64{5: 100.0, 6: 100.1} {
		order := s.bt.Orders()[id]
		if order.Status != types.StatusFilled || !order.Maker {
			t.Errorf("order %d = (%v, maker %v), want (FILLED, true)", id, order.Status, order.Maker)
		}
		if !approx(order.ExecPrice(), wantPx, 1e-6) {
			t.Errorf("order %d ExecPrice = %v, want %v", id, order.ExecPrice(), wantPx)
		}
	}
	if got := s.bt.Position(); got != -2 {
		t.Errorf("Position = %v, want -2", got)
	}
}

// Scenario: successive prints advance the queue estimate; the order stays
// open until the volume ahead is consumed.
func TestQueuePositionAdvancement(t *testing.T) {
	t.Parallel()
	rows := []types.Row{
		bidRow(1000, 100.0, 7),
		sellTradeRow(2000, 100.0, 3),
		sellTradeRow(3000, 100.0, 3),
		sellTradeRow(4000, 100.0, 2),
	}
	rows = append(rows, trailing(8000)...)
	s := newSim(t, rows, defaultParams())

	if _, err := s.bt.SubmitBuyOrder(7, 100.0, 1, types.GTC, types.Limit, true); err != nil {
		t.Fatal(err)
	}

	if _, err := s.bt.Elapse(1_000); err != nil { // past the first print
		t.Fatal(err)
	}
	if got := s.bt.Orders()[7].Status; got != types.StatusNew {
		t.Fatalf("status after first print = %v, want NEW", got)
	}
	if _, err := s.bt.Elapse(1_000); err != nil { // past the second print
		t.Fatal(err)
	}
	if got := s.bt.Orders()[7].Status; got != types.StatusNew {
		t.Fatalf("status after second print = %v, want NEW", got)
	}
	if _, err := s.bt.Elapse(2_000); err != nil { // past the third print
		t.Fatal(err)
	}
	if got := s.bt.Orders()[7].Status; got != types.StatusFilled {
		t.Fatalf("status after third print = %v, want FILLED", got)
	}
	if got := s.bt.Position(); got != 1 {
		t.Errorf("Position = %v, want 1", got)
	}
}

// Round-trip law: submit then cancel with nothing in between leaves the order
// canceled and the account untouched.
func TestSubmitThenCancel(t *testing.T) {
	t.Parallel()
	rows := []types.Row{
		bidRow(1000, 100.0, 5),
		askRow(1000, 100.1, 5),
	}
	rows = append(rows, trailing(8000)...)
	s := newSim(t, rows, defaultParams())

	if _, err := s.bt.SubmitBuyOrder(11, 99.5, 1, types.GTC, types.Limit, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.bt.Cancel(11, true); err != nil {
		t.Fatal(err)
	}

	order := s.bt.Orders()[11]
	if order.Status != types.StatusCanceled {
		t.Errorf("status = %v, want CANCELED", order.Status)
	}
	sv := s.bt.StateValues()
	if sv.Position != 0 || sv.Fee != 0 || sv.TradeNum != 0 {
		t.Errorf("state = %+v, want untouched", sv)
	}

	s.bt.ClearInactiveOrders()
	if _, ok := s.bt.Orders()[11]; ok {
		t.Error("canceled order survived ClearInactiveOrders")
	}
}

// Boundary: an empty book accepts resting orders on both sides.
func TestEmptyBookAcceptsBothSides(t *testing.T) {
	t.Parallel()
	// The exchange sees its first row at 8000, after both requests have
	// arrived, so the matching book is empty on both sides.
	rows := trailing(8000)
	for i := range rows {
		rows[i].LocalTS = rows[i].ExchTS - 5000
	}
	s := newSim(t, rows, defaultParams())

	if _, err := s.bt.SubmitBuyOrder(21, 80.0, 1, types.GTC, types.Limit, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.bt.SubmitSellOrder(22, 120.0, 1, types.GTC, types.Limit, true); err != nil {
		t.Fatal(err)
	}
	if got := s.bt.Orders()[21].Status; got != types.StatusNew {
		t.Errorf("buy status = %v, want NEW", got)
	}
	if got := s.bt.Orders()[22].Status; got != types.StatusNew {
		t.Errorf("sell status = %v, want NEW", got)
	}
}

// Modify re-keys the order at its new price and restarts its queue position;
// a modify into the spread's far side takes the market.
func TestModifyRekeysAndCanTake(t *testing.T) {
	t.Parallel()
	rows := []types.Row{
		bidRow(1000, 100.0, 5),
		bidRow(1000, 99.9, 5),
		askRow(1000, 100.1, 5),
	}
	rows = append(rows, trailing(8000)...)
	p := defaultParams()
	p.takerFee = 0.0002
	s := newSim(t, rows, p)

	if _, err := s.bt.SubmitBuyOrder(31, 99.9, 1, types.GTC, types.Limit, true); err != nil {
		t.Fatal(err)
	}

	// Reprice within the book.
	if _, err := s.bt.ModifyOrder(31, 99.8, 2, true); err != nil {
		t.Fatal(err)
	}
	order := s.bt.Orders()[31]
	if order.Status != types.StatusNew || order.PriceTick != 998 || order.Qty != 2 {
		t.Fatalf("after modify: status %v tick %d qty %v, want NEW 998 2", order.Status, order.PriceTick, order.Qty)
	}

	// Reprice across the spread: fills as taker at the best ask.
	if _, err := s.bt.ModifyOrder(31, 100.2, 2, true); err != nil {
		t.Fatal(err)
	}
	order = s.bt.Orders()[31]
	if order.Status != types.StatusFilled || order.Maker {
		t.Fatalf("after crossing modify: (%v, maker %v), want (FILLED, false)", order.Status, order.Maker)
	}
	if !approx(order.ExecPrice(), 100.1, 1e-6) {
		t.Errorf("ExecPrice = %v, want 100.1", order.ExecPrice())
	}
}

// Duplicate ids are rejected locally while the first order is alive.
func TestSubmitDuplicateID(t *testing.T) {
	t.Parallel()
	rows := append([]types.Row{bidRow(1000, 100.0, 5), askRow(1000, 100.1, 5)}, trailing(8000)...)
	s := newSim(t, rows, defaultParams())

	if _, err := s.bt.SubmitBuyOrder(41, 99.5, 1, types.GTC, types.Limit, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.bt.SubmitBuyOrder(41, 99.4, 1, types.GTC, types.Limit, false); err != types.ErrOrderAlreadyExist {
		t.Errorf("duplicate submit error = %v, want ErrOrderAlreadyExist", err)
	}
	if _, err := s.bt.Cancel(99, false); err != types.ErrOrderNotFound {
		t.Errorf("cancel unknown error = %v, want ErrOrderNotFound", err)
	}
}

// One request may be in flight per order at a time.
func TestRequestInProcess(t *testing.T) {
	t.Parallel()
	rows := append([]types.Row{bidRow(1000, 100.0, 5), askRow(1000, 100.1, 5)}, trailing(8000)...)
	s := newSim(t, rows, defaultParams())

	if _, err := s.bt.SubmitBuyOrder(51, 99.5, 1, types.GTC, types.Limit, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.bt.Cancel(51, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.bt.Cancel(51, false); err != types.ErrOrderRequestInProcess {
		t.Errorf("second cancel error = %v, want ErrOrderRequestInProcess", err)
	}
}

// Determinism: identical inputs and identical strategy calls produce an
// identical state trajectory, and the strategy clock never runs backwards.
func TestDeterministicReplay(t *testing.T) {
	t.Parallel()
	build := func() (types.StateValues, []int64) {
		rows := []types.Row{
			bidRow(1000, 99.9, 5),
			askRow(1000, 100.0, 1),
			askRow(1000, 100.1, 1),
			sellTradeRow(2000, 99.9, 2),
			bidRow(3000, 100.1, 1),
			buyTradeRow(4000, 100.2, 3),
		}
		rows = append(rows, trailing(8000)...)
		s := newSim(t, rows, defaultParams())

		var stamps []int64
		if _, err := s.bt.SubmitSellOrder(5, 100.0, 1, types.GTC, types.Limit, true); err != nil {
			t.Fatal(err)
		}
		stamps = append(stamps, s.bt.CurrentTimestamp())
		if _, err := s.bt.SubmitBuyOrder(6, 99.9, 1, types.GTC, types.Limit, true); err != nil {
			t.Fatal(err)
		}
		stamps = append(stamps, s.bt.CurrentTimestamp())
		for i := 0; i < 5; i++ {
			if _, err := s.bt.Elapse(1_000); err != nil {
				t.Fatal(err)
			}
			stamps = append(stamps, s.bt.CurrentTimestamp())
		}
		return s.bt.StateValues(), stamps
	}

	sv1, stamps1 := build()
	sv2, stamps2 := build()
	if sv1 != sv2 {
		t.Errorf("state diverged: %+v vs %+v", sv1, sv2)
	}
	for i := range stamps1 {
		if stamps1[i] != stamps2[i] {
			t.Errorf("clock diverged at step %d: %d vs %d", i, stamps1[i], stamps2[i])
		}
		if i > 0 && stamps1[i] < stamps1[i-1] {
			t.Errorf("clock ran backwards at step %d", i)
		}
	}
}
