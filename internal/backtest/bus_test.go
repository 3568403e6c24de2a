package backtest

import (
	"testing"

	"hftsim/pkg/types"
)

func busOrder(id int64) *types.Order {
	return types.NewOrder(id, 1000, 0.1, 1, types.Buy, types.Limit, types.GTC)
}

func TestOrderBusEmptyHead(t *testing.T) {
	t.Parallel()
	b := NewOrderBus()
	if got := b.HeadTimestamp(); got != types.TimestampMax {
		t.Errorf("HeadTimestamp = %d, want TimestampMax", got)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}

func TestOrderBusKeepsDeliveryOrder(t *testing.T) {
	t.Parallel()
	b := NewOrderBus()
	b.Append(busOrder(1), 300)
	b.Append(busOrder(2), 100)
	b.Append(busOrder(3), 200)

	var got []int64
	for b.Len() > 0 {
		o, ts := b.PopHead()
		got = append(got, o.OrderID)
		_ = ts
	}
	want := []int64{2, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestOrderBusStableTies(t *testing.T) {
	t.Parallel()
	b := NewOrderBus()
	b.Append(busOrder(1), 100)
	b.Append(busOrder(2), 100)
	b.Append(busOrder(3), 100)

	for want := int64(1); want <= 3; want++ {
		o, ts := b.PopHead()
		if ts != 100 || o.OrderID != want {
			t.Fatalf("PopHead = (id %d, ts %d), want (id %d, ts 100)", o.OrderID, ts, want)
		}
	}
}
