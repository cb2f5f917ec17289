package kstock

import "testing"

func TestEmitterOnOffEmitSync(t *testing.T) {
	e := NewEventEmitter()

	var got []int64
	id := e.On(EventPrice, func(data interface{}) {
		got = append(got, data.(PriceUpdate).Price)
	})

	e.EmitSync(EventPrice, PriceUpdate{Price: 71_000})
	e.EmitSync(EventOrderbook, OrderbookUpdate{}) // different event, no delivery

	if len(got) != 1 || got[0] != 71_000 {
		t.Fatalf("deliveries = %v", got)
	}

	e.Off(EventPrice, id)
	e.EmitSync(EventPrice, PriceUpdate{Price: 72_000})
	if len(got) != 1 {
		t.Error("handler still delivered after Off")
	}
}

func TestEmitterOnce(t *testing.T) {
	e := NewEventEmitter()

	count := 0
	e.Once(EventConnection, func(interface{}) { count++ })

	e.EmitSync(EventConnection, nil)
	e.EmitSync(EventConnection, nil)

	if count != 1 {
		t.Errorf("once handler ran %d times", count)
	}
	if e.ListenerCount(EventConnection) != 0 {
		t.Error("once handler not removed")
	}
}

func TestEmitterRemoveAllListeners(t *testing.T) {
	e := NewEventEmitter()
	e.On(EventError, func(interface{}) {})
	e.On(EventError, func(interface{}) {})

	if e.ListenerCount(EventError) != 2 {
		t.Fatalf("listener count = %d", e.ListenerCount(EventError))
	}
	e.RemoveAllListeners(EventError)
	if e.ListenerCount(EventError) != 0 {
		t.Error("listeners remain after RemoveAllListeners")
	}
}
