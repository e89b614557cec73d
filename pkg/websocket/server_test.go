package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optfi/vault/pkg/fixed"
	"github.com/optfi/vault/pkg/ov"
)

func newTestWsServer(t *testing.T) *Server {
	t.Helper()
	level, _ := log.ToLevel("error")
	return NewServer(log.NewTestLogger(level), DefaultConfig())
}

func TestPublishRoutesByEventType(t *testing.T) {
	s := newTestWsServer(t)

	s.Publish(ov.TradeEvent{Account: "alice", Size: fixed.One, Time: time.Now()})
	s.Publish(ov.LiquidationEvent{Account: "bob", Time: time.Now()})
	s.Publish(ov.ClearEvent{Account: "carol", Time: time.Now()})

	want := []string{ChannelTrades, ChannelLiquidations, ChannelClears}
	for _, channel := range want {
		select {
		case msg := <-s.broadcast:
			assert.Equal(t, channel, msg.Channel)
		default:
			t.Fatalf("no message queued for %s", channel)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	s := newTestWsServer(t)

	for i := 0; i < cap(s.broadcast)+10; i++ {
		s.Publish(ov.TradeEvent{Account: "alice", Time: time.Now()})
	}
	assert.Len(t, s.broadcast, cap(s.broadcast))
}

func TestSubscriptionBookkeeping(t *testing.T) {
	s := newTestWsServer(t)
	c := &Client{id: "c1", server: s, send: make(chan []byte, 4), channels: make(map[string]bool)}

	s.subscribe(ChannelTrades, c)
	s.subscribe(ChannelClears, c)
	assert.Len(t, s.subscriptions, 2)

	s.unsubscribe(ChannelTrades, c)
	assert.Len(t, s.subscriptions, 1)

	s.unsubscribeAll(c)
	assert.Empty(t, s.subscriptions)
}

func TestBroadcastDeliversToSubscribers(t *testing.T) {
	s := newTestWsServer(t)
	sub := &Client{id: "sub", server: s, send: make(chan []byte, 4), channels: make(map[string]bool)}
	other := &Client{id: "other", server: s, send: make(chan []byte, 4), channels: make(map[string]bool)}

	s.subscribe(ChannelTrades, sub)
	s.subscribe(ChannelClears, other)

	s.broadcastMessage(Message{
		Type:      "trade",
		Channel:   ChannelTrades,
		Data:      ov.TradeEvent{Account: "alice", Time: time.Now()},
		Timestamp: time.Now().Unix(),
	})

	select {
	case raw := <-sub.send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, ChannelTrades, msg.Channel)
		assert.Equal(t, "trade", msg.Type)
	default:
		t.Fatal("subscriber received nothing")
	}
	assert.Empty(t, other.send)
}
