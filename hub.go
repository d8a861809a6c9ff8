package main

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"puckstorm/client/timewarp"
)

const (
	writeWait = 10 * time.Second
	tickRate  = 15 // simulation ticks per second
	tickStep  = time.Second / tickRate
)

// Hub owns the testbed and the inspector connections watching it.
type Hub struct {
	mu          sync.Mutex
	testbed     *Testbed
	subscribers map[uint64]*subscriber
	nextID      atomic.Uint64
	telemetry   *telemetryCounters
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type entitySnapshot struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Health int     `json:"health,omitempty"`
}

type rollbackView struct {
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
	Frames uint64 `json:"frames"`
	Active bool   `json:"active"`
}

type stateMessage struct {
	Type       string            `json:"type"`
	Frame      uint64            `json:"frame"`
	Entities   []entitySnapshot  `json:"entities"`
	Stats      timewarp.Stats    `json:"stats"`
	Telemetry  telemetrySnapshot `json:"telemetry"`
	Rollback   *rollbackView     `json:"rollback,omitempty"`
	ServerTime int64             `json:"serverTime"`
}

func newHub(testbed *Testbed, telemetry *telemetryCounters) *Hub {
	return &Hub{
		testbed:     testbed,
		subscribers: make(map[uint64]*subscriber),
		telemetry:   telemetry,
	}
}

// Subscribe registers an inspector connection.
func (h *Hub) Subscribe(conn *websocket.Conn) uint64 {
	id := h.nextID.Add(1)
	h.mu.Lock()
	h.subscribers[id] = &subscriber{conn: conn}
	h.mu.Unlock()
	return id
}

// Unsubscribe drops an inspector connection.
func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
	}
}

// RunSimulation drives the fixed-rate tick loop until the stop channel
// closes. A tick whose frame starts a rollback keeps running frames back to
// back until the replay catches up, so the whole episode costs one tick of
// wall time.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	ticker := time.NewTicker(tickStep)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			start := time.Now()
			frames := uint64(0)
			h.mu.Lock()
			for {
				h.testbed.Tick()
				frames++
				if !h.testbed.world.Resimulating() {
					break
				}
			}
			msg := h.stateLocked()
			h.mu.Unlock()

			h.telemetry.RecordTick(frames, time.Since(start), msg.Stats)
			msg.Telemetry = h.telemetry.Snapshot()
			h.broadcastState(msg)
		}
	}
}

// stateLocked builds the broadcast message. Callers must hold the hub mutex.
func (h *Hub) stateLocked() stateMessage {
	tb := h.testbed
	entities := make([]entitySnapshot, 0, tb.positions.Len())
	tb.positions.Each(func(id string, pos Position) {
		snap := entitySnapshot{ID: id, X: pos.X, Y: pos.Y}
		if health, ok := tb.healths.Get(id); ok {
			snap.Health = health
		}
		entities = append(entities, snap)
	})

	msg := stateMessage{
		Type:       "state",
		Frame:      uint64(tb.world.Frame()),
		Entities:   entities,
		Stats:      tb.world.Stats(),
		ServerTime: time.Now().UnixMilli(),
	}
	if rb, ok := tb.world.ActiveRollback(); ok {
		msg.Rollback = &rollbackView{Start: uint64(rb.Start), End: uint64(rb.End), Frames: uint64(rb.Depth()), Active: true}
	} else if rb, ok := tb.world.PreviousRollback(); ok {
		msg.Rollback = &rollbackView{Start: uint64(rb.Start), End: uint64(rb.End), Frames: uint64(rb.Depth())}
	}
	return msg
}

// broadcastState sends the latest state to every inspector.
func (h *Hub) broadcastState(msg stateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to marshal state message: %v", err)
		return
	}

	h.mu.Lock()
	subs := make(map[uint64]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	for id, sub := range subs {
		sub.mu.Lock()
		sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := sub.conn.WriteMessage(websocket.TextMessage, data)
		sub.mu.Unlock()
		if err != nil {
			log.Printf("failed to send update to inspector %d: %v", id, err)
			h.Unsubscribe(id)
		}
	}
}

// DiagnosticsSnapshot exposes world state for the diagnostics endpoint.
func (h *Hub) DiagnosticsSnapshot() stateMessage {
	h.mu.Lock()
	msg := h.stateLocked()
	h.mu.Unlock()
	msg.Telemetry = h.telemetry.Snapshot()
	return msg
}
