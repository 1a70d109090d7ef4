package events

import (
	"math/big"
	"testing"
)

type recorder struct {
	events []Event
}

func (r *recorder) Emit(evt Event) { r.events = append(r.events, evt) }

func TestBufferedFlushesOnOutermostCommit(t *testing.T) {
	sink := &recorder{}
	buf := NewBuffered(sink)

	buf.Begin()
	buf.Emit(RateUpdated{Asset: "usdc", Rate: big.NewInt(1)})
	buf.Begin()
	buf.Emit(FeesAccrued{Asset: "usdc", Amount: big.NewInt(2)})
	buf.Commit()
	if len(sink.events) != 0 {
		t.Fatalf("expected events to stay buffered, got %d", len(sink.events))
	}
	buf.Commit()
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events after commit, got %d", len(sink.events))
	}
	if sink.events[0].EventType() != TypeRateUpdated || sink.events[1].EventType() != TypeFeesAccrued {
		t.Fatalf("unexpected event order")
	}
}

func TestBufferedDiscardDropsInnerScopeOnly(t *testing.T) {
	sink := &recorder{}
	buf := NewBuffered(sink)

	buf.Begin()
	buf.Emit(AssetWhitelist{Asset: "dai", Allowed: true})
	buf.Begin()
	buf.Emit(AssetWhitelist{Asset: "usdt", Allowed: true})
	buf.Discard()
	buf.Commit()

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	payload := sink.events[0].(AssetWhitelist).Event()
	if payload.Attributes["asset"] != "DAI" {
		t.Fatalf("unexpected asset %q", payload.Attributes["asset"])
	}
}

func TestBufferedPassThroughOutsideScope(t *testing.T) {
	sink := &recorder{}
	buf := NewBuffered(sink)
	buf.Emit(HoldingAssigned{})
	if len(sink.events) != 1 {
		t.Fatalf("expected pass-through emit")
	}
	buf.Commit()
	buf.Discard()
}

func TestCollateralMovedEventType(t *testing.T) {
	if (CollateralMoved{}).EventType() != TypeCollateralAdded {
		t.Fatalf("unexpected add type")
	}
	if (CollateralMoved{Removed: true}).EventType() != TypeCollateralRemoved {
		t.Fatalf("unexpected remove type")
	}
	if (CollateralMoved{Removed: true, Forced: true}).EventType() != TypeCollateralForced {
		t.Fatalf("unexpected forced type")
	}
}
