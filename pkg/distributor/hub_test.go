package distributor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buzzspeakerhire/bss-control-app/pkg/session"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

var (
	addrA = wire.Address{Node: 1, VirtualDevice: 3, Object: 0x010203}
	addrB = wire.Address{Node: 1, VirtualDevice: 3, Object: 0x010204}
)

func update(device string, addr wire.Address, raw int32) ParameterUpdate {
	return ParameterUpdate{DeviceID: device, Address: addr, Type: wire.MsgSetRaw, Raw: raw, Value: float64(raw)}
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return nil
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub(DefaultConfig())
	a := hub.Subscribe(Filter{})
	b := hub.Subscribe(Filter{})
	assert.Equal(t, 2, hub.Len())

	e := update("amp-1", addrA, 42)
	assert.Equal(t, 2, hub.Publish(e))
	assert.Equal(t, e, receive(t, a))
	assert.Equal(t, e, receive(t, b))
}

func TestCancelDoesNotAffectOthers(t *testing.T) {
	hub := NewHub(DefaultConfig())
	a := hub.Subscribe(Filter{})
	b := hub.Subscribe(Filter{})

	a.Cancel()
	a.Cancel()
	_, ok := <-a.Events()
	assert.False(t, ok)

	assert.Equal(t, 1, hub.Publish(update("amp-1", addrA, 1)))
	assert.Equal(t, int32(1), receive(t, b).(ParameterUpdate).Raw)
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(Config{Buffer: 2})
	slow := hub.Subscribe(Filter{})
	fast := hub.Subscribe(Filter{})

	var got []int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range fast.Events() {
			got = append(got, e.(ParameterUpdate).Raw)
			if len(got) == 5 {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := int32(0); i < 5; i++ {
			hub.Publish(update("amp-1", addrA, i))
			time.Sleep(10 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	wg.Wait()

	assert.Equal(t, []int32{0, 1, 2, 3, 4}, got, "order preserved for the fast subscriber")
	assert.Equal(t, uint64(3), slow.Dropped())
	assert.Equal(t, int32(0), receive(t, slow).(ParameterUpdate).Raw)
	assert.Equal(t, int32(1), receive(t, slow).(ParameterUpdate).Raw)
}

func TestFilter(t *testing.T) {
	disc := DeviceDisconnected{DeviceID: "amp-1", Err: errors.New("reset")}
	state := StateChanged{DeviceID: "amp-2", Old: session.StateConnecting, New: session.StateConnected}

	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{"zero matches update", Filter{}, update("amp-1", addrA, 0), true},
		{"zero matches state", Filter{}, state, true},
		{"device match", Filter{DeviceID: "amp-1"}, update("amp-1", addrA, 0), true},
		{"device mismatch", Filter{DeviceID: "amp-1"}, state, false},
		{"address match", Filter{Address: &addrA}, update("amp-1", addrA, 0), true},
		{"address mismatch", Filter{Address: &addrA}, update("amp-1", addrB, 0), false},
		{"address passes other kinds", Filter{Address: &addrA}, disc, true},
		{"updates only", Filter{UpdatesOnly: true}, disc, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(tt.event))
		})
	}
}

func TestEventTypeSwitch(t *testing.T) {
	events := []Event{
		update("amp-1", addrA, 0),
		StateChanged{DeviceID: "amp-2"},
		DeviceDisconnected{DeviceID: "amp-3"},
	}
	var kinds []string
	for _, e := range events {
		switch e.(type) {
		case ParameterUpdate:
			kinds = append(kinds, "update")
		case StateChanged:
			kinds = append(kinds, "state")
		case DeviceDisconnected:
			kinds = append(kinds, "disconnected")
		}
	}
	assert.Equal(t, []string{"update", "state", "disconnected"}, kinds)
	assert.Equal(t, "amp-3", events[2].Device())
}

func TestHubClose(t *testing.T) {
	hub := NewHub(DefaultConfig())
	sub := hub.Subscribe(Filter{})
	hub.Close()
	hub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	sub.Cancel()

	assert.Equal(t, 0, hub.Publish(update("amp-1", addrA, 0)))
	late := hub.Subscribe(Filter{})
	_, ok = <-late.Events()
	assert.False(t, ok)
}

func TestConcurrentSubscribePublish(t *testing.T) {
	hub := NewHub(Config{Buffer: 8})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub := hub.Subscribe(Filter{})
				sub.Cancel()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Publish(update("amp-1", addrA, int32(j)))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Len())
}
