package main

import (
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"

	"puckstorm/client/catalog"
	"puckstorm/client/frame"
	"puckstorm/client/logging"
	"puckstorm/client/timewarp"
)

const (
	rinkWidth  = 800.0
	rinkHeight = 600.0
	entityHalf = 14.0

	// The synthetic server delivers snapshots every snapshotInterval frames,
	// each lagging snapshotLag frames behind the client clock.
	snapshotInterval = 10
	snapshotLag      = 5

	// Every kickInterval frames the server deflects the puck in a way the
	// client cannot predict, forcing a real correction.
	kickInterval = 45

	skaterMaxHealth = 600
)

// Position is the tracked spatial component.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type velocity struct {
	dx float64
	dy float64
}

// Testbed is a tiny deterministic hockey scenario wired to a rollback
// world: a puck and two skaters, predicted locally while a synthetic server
// feeds back delayed authoritative snapshots.
type Testbed struct {
	world     *timewarp.World
	positions *timewarp.MapStore[Position]
	healths   *timewarp.MapStore[int]
	position  *timewarp.Tracked[Position]
	health    *timewarp.Tracked[int]

	velocities map[string]velocity
	server     *syntheticServer
	maxFrame   frame.Number
	nextSpawn  atomic.Uint64
}

func newTestbed(cfg timewarp.Config, seed int64, publisher logging.Publisher, manifest *catalog.Resolver) *Testbed {
	world := timewarp.NewWorld(cfg, tickStep, publisher)
	positions := timewarp.NewMapStore[Position]()
	healths := timewarp.NewMapStore[int]()

	tb := &Testbed{
		world:      world,
		positions:  positions,
		healths:    healths,
		position:   registerFromManifest(world, manifest, "position", true, positions),
		health:     registerFromManifest(world, manifest, "health", false, healths),
		velocities: make(map[string]velocity),
	}
	tb.server = newSyntheticServer(seed, cfg.RollbackWindow)
	world.SetDespawnHandler(tb.onDestroyed)

	tb.spawn("puck", Position{X: rinkWidth / 2, Y: rinkHeight / 2}, velocity{dx: 140, dy: 95}, 0)
	tb.spawn("skater-1", Position{X: 200, Y: 200}, velocity{dx: 60, dy: -40}, skaterMaxHealth)
	tb.spawn("skater-2", Position{X: 600, Y: 400}, velocity{dx: -55, dy: 35}, skaterMaxHealth)
	return tb
}

// registerFromManifest honors the manifest's per-type correction flag,
// falling back to the built-in default when the type is not declared.
func registerFromManifest[T comparable](world *timewarp.World, manifest *catalog.Resolver, name string, correctByDefault bool, store timewarp.Store[T]) *timewarp.Tracked[T] {
	correct := correctByDefault
	if td, ok := manifest.Type(name); ok {
		correct = td.CorrectionLogging
	}
	if correct {
		return timewarp.RegisterTypeWithCorrection(world, name, store)
	}
	return timewarp.RegisterType(world, name, store)
}

func (tb *Testbed) spawn(id string, pos Position, vel velocity, health int) {
	tb.positions.Set(id, pos)
	if health > 0 {
		tb.healths.Set(id, health)
	}
	tb.velocities[id] = vel
	tb.server.adopt(id, pos, vel, health)
}

// onDestroyed replaces a fully torn-down skater with a fresh one under a
// new identity, since a destroyed id can never be tracked again.
func (tb *Testbed) onDestroyed(id string) {
	if id == "puck" {
		return
	}
	gen := tb.nextSpawn.Add(1)
	replacement := fmt.Sprintf("skater-r%d", gen)
	tb.spawn(replacement, Position{X: rinkWidth / 2, Y: rinkHeight / 2}, velocity{dx: 50, dy: 50}, skaterMaxHealth)
}

// Tick runs exactly one simulation frame. The hub loop calls it repeatedly
// without delay while a rollback is replaying.
func (tb *Testbed) Tick() {
	tb.world.RunFrame(tb.simulate)

	// The synthetic server only advances on first-time frames; replayed
	// frames must not feed back into it.
	f := tb.world.Frame()
	if f > tb.maxFrame {
		tb.maxFrame = f
		tb.server.step(f)
		tb.deliverSnapshots(f)
		tb.despawnExhausted()
	}
}

// simulate is the client-side prediction: pure, deterministic movement and
// hazard drain, identical to the server's rules minus the puck kicks.
func (tb *Testbed) simulate(f frame.Number) {
	ids := make([]string, 0, tb.positions.Len())
	tb.positions.Each(func(id string, _ Position) {
		ids = append(ids, id)
	})
	for _, id := range ids {
		pos, _ := tb.positions.Get(id)
		tb.positions.Set(id, advancePosition(pos, tb.velocities[id]))
	}

	hp := make([]string, 0, tb.healths.Len())
	tb.healths.Each(func(id string, _ int) {
		hp = append(hp, id)
	})
	for _, id := range hp {
		v, _ := tb.healths.Get(id)
		pos, ok := tb.positions.Get(id)
		if ok && inHazardZone(pos) {
			v -= 2
		}
		v--
		tb.healths.Set(id, v)
	}
}

func (tb *Testbed) deliverSnapshots(f frame.Number) {
	if f <= snapshotLag || f%snapshotInterval != 0 {
		return
	}
	target := f - snapshotLag
	state, ok := tb.server.at(target)
	if !ok {
		return
	}
	for id, pos := range state.positions {
		if tb.world.Despawning(id) {
			continue
		}
		tb.position.InsertSnapshot(id, target, pos)
	}
	for id, health := range state.healths {
		if tb.world.Despawning(id) {
			continue
		}
		tb.health.InsertSnapshot(id, target, health)
	}
}

// despawnExhausted marks skaters whose health ran out.
func (tb *Testbed) despawnExhausted() {
	drained := make([]string, 0, 1)
	tb.healths.Each(func(id string, v int) {
		if v <= 0 {
			drained = append(drained, id)
		}
	})
	for _, id := range drained {
		tb.world.MarkDespawn(id)
		tb.server.forget(id)
		delete(tb.velocities, id)
	}
}

func advancePosition(p Position, v velocity) Position {
	p.X += v.dx * tickStep.Seconds()
	p.Y += v.dy * tickStep.Seconds()
	if p.X < entityHalf {
		p.X = 2*entityHalf - p.X
	}
	if p.X > rinkWidth-entityHalf {
		p.X = 2*(rinkWidth-entityHalf) - p.X
	}
	if p.Y < entityHalf {
		p.Y = 2*entityHalf - p.Y
	}
	if p.Y > rinkHeight-entityHalf {
		p.Y = 2*(rinkHeight-entityHalf) - p.Y
	}
	return p
}

func inHazardZone(p Position) bool {
	return math.Hypot(p.X-rinkWidth/2, p.Y-rinkHeight/2) < 120
}

// serverState is one authoritative frame of the synthetic server.
type serverState struct {
	positions map[string]Position
	healths   map[string]int
}

// syntheticServer runs the authoritative copy of the scenario in lockstep
// with the client, keeping a short history so delayed snapshots can be
// served. Unlike the client it kicks the puck at a fixed cadence, which is
// what makes the client mispredict.
type syntheticServer struct {
	rng        *rand.Rand
	positions  map[string]Position
	healths    map[string]int
	velocities map[string]velocity
	history    map[frame.Number]serverState
	keep       frame.Number
}

func newSyntheticServer(seed int64, window frame.Number) *syntheticServer {
	keep := window * 4
	if keep < 2*snapshotLag {
		keep = 2 * snapshotLag
	}
	return &syntheticServer{
		rng:        rand.New(rand.NewSource(seed)),
		positions:  make(map[string]Position),
		healths:    make(map[string]int),
		velocities: make(map[string]velocity),
		history:    make(map[frame.Number]serverState),
		keep:       keep,
	}
}

func (s *syntheticServer) adopt(id string, pos Position, vel velocity, health int) {
	s.positions[id] = pos
	s.velocities[id] = vel
	if health > 0 {
		s.healths[id] = health
	}
}

func (s *syntheticServer) forget(id string) {
	delete(s.positions, id)
	delete(s.healths, id)
	delete(s.velocities, id)
}

func (s *syntheticServer) step(f frame.Number) {
	if f%kickInterval == 0 {
		if vel, ok := s.velocities["puck"]; ok {
			angle := s.rng.Float64() * 2 * math.Pi
			speed := math.Hypot(vel.dx, vel.dy)
			s.velocities["puck"] = velocity{dx: speed * math.Cos(angle), dy: speed * math.Sin(angle)}
		}
	}
	for id, pos := range s.positions {
		s.positions[id] = advancePosition(pos, s.velocities[id])
	}
	for id, v := range s.healths {
		if pos, ok := s.positions[id]; ok && inHazardZone(pos) {
			v -= 2
		}
		s.healths[id] = v - 1
	}
	s.history[f] = snapshotState(s.positions, s.healths)
	if f > s.keep {
		delete(s.history, f-s.keep)
	}
}

func (s *syntheticServer) at(f frame.Number) (serverState, bool) {
	state, ok := s.history[f]
	return state, ok
}

func snapshotState(positions map[string]Position, healths map[string]int) serverState {
	state := serverState{
		positions: make(map[string]Position, len(positions)),
		healths:   make(map[string]int, len(healths)),
	}
	for id, pos := range positions {
		state.positions[id] = pos
	}
	for id, v := range healths {
		state.healths[id] = v
	}
	return state
}
