// Package memory implements the pairing state machine of a memory-matching
// card game.
//
// A Game owns a board of face-down tiles. Activating a hidden tile flips it;
// the second flip of a round compares the two keys. Matching tiles stay
// revealed for good, mismatched tiles are hidden again after a reveal delay.
// While a pair is being resolved the board is locked and every activation
// is ignored.
//
// The game never touches a display. It emits render intents through a
// Renderer and defers work through a Scheduler, both supplied by the
// caller. A Game is not safe for concurrent use: Activate, Initialize and
// every task handed to the Scheduler must run on the same goroutine.
package memory

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultRevealDelay   = 1500 * time.Millisecond
	DefaultCompleteDelay = 300 * time.Millisecond
)

var ErrNoScheduler = errors.New("memory: nil scheduler")

// Renderer performs the visual side effects requested by a Game.
type Renderer[K comparable] interface {
	// Render draws t according to its current visibility.
	Render(t *Tile[K])
	// Reorder places tiles in the given order after a shuffle.
	Reorder(tiles []*Tile[K])
	// NotifyComplete tells the player that every pair has been found.
	NotifyComplete()
}

// Scheduler runs task once after d has elapsed. Tasks are never cancelled,
// and must be run on the goroutine that drives the Game.
type Scheduler interface {
	Schedule(d time.Duration, task func())
}

type SchedulerFunc func(d time.Duration, task func())

func (f SchedulerFunc) Schedule(d time.Duration, task func()) { f(d, task) }

// Stats counts what happened during a game. They describe activity only;
// the game keeps no score.
type Stats struct {
	Activations int
	Matches     int
	Mismatches  int
}

type options struct {
	revealDelay   time.Duration
	completeDelay time.Duration
	rng           *rand.Rand
	log           zerolog.Logger
}

type Option func(*options)

// WithRevealDelay sets how long a mismatched pair stays face up.
func WithRevealDelay(d time.Duration) Option {
	return func(o *options) { o.revealDelay = d }
}

// WithCompleteDelay sets the pause between the final match and the
// completion notice.
func WithCompleteDelay(d time.Duration) Option {
	return func(o *options) { o.completeDelay = d }
}

// WithRand replaces the shuffle's random source.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

type Game[K comparable] struct {
	tiles []*Tile[K]
	byID  map[TileID]*Tile[K]

	first  *Tile[K]
	second *Tile[K]
	locked bool

	// round advances every time the selection is reset, so a revert
	// scheduled in an earlier round cannot clear a newer selection.
	round     uint64
	completed bool
	stats     Stats

	renderer      Renderer[K]
	scheduler     Scheduler
	revealDelay   time.Duration
	completeDelay time.Duration
	rng           *rand.Rand
	log           zerolog.Logger
}

// New builds a game with one tile per key, in the order given. Every key
// must appear exactly twice. Call Initialize to shuffle before play.
func New[K comparable](keys []K, r Renderer[K], s Scheduler, opts ...Option) (*Game[K], error) {
	if err := validateKeys(keys); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoScheduler
	}
	if r == nil {
		r = nopRenderer[K]{}
	}

	o := options{
		revealDelay:   DefaultRevealDelay,
		completeDelay: DefaultCompleteDelay,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	tiles := newTiles(keys)
	byID := make(map[TileID]*Tile[K], len(tiles))
	for _, t := range tiles {
		byID[t.id] = t
	}

	return &Game[K]{
		tiles:         tiles,
		byID:          byID,
		renderer:      r,
		scheduler:     s,
		revealDelay:   o.revealDelay,
		completeDelay: o.completeDelay,
		rng:           o.rng,
		log:           o.log,
	}, nil
}

// Initialize shuffles the board, asks the renderer to reorder it and clears
// any selection and lock.
func (g *Game[K]) Initialize() {
	shuffle(g.rng, g.tiles)
	g.renderer.Reorder(g.Tiles())
	g.resetSelections()
}

// Activate flips t. It does nothing if t is already flipped or matched,
// if the board is locked, or if t belongs to another game. The result
// reports whether the activation was accepted.
func (g *Game[K]) Activate(t *Tile[K]) bool {
	if t == nil || g.byID[t.id] != t {
		return false
	}
	if t.visibility == Matched || t.visibility == Flipped || g.locked {
		return false
	}

	g.stats.Activations++
	t.visibility = Flipped
	g.renderer.Render(t)

	switch {
	case g.first == nil:
		g.first = t
	case g.second == nil:
		g.second = t
		g.resolvePair()
	}

	return true
}

// ActivateID is Activate for a tile looked up by identity. Unknown IDs
// are ignored.
func (g *Game[K]) ActivateID(id TileID) bool {
	t, ok := g.byID[id]
	if !ok {
		return false
	}
	return g.Activate(t)
}

func (g *Game[K]) resolvePair() {
	g.locked = true

	a, b := g.first, g.second

	if a.key == b.key {
		a.visibility = Matched
		b.visibility = Matched
		g.renderer.Render(a)
		g.renderer.Render(b)
		g.stats.Matches++

		matched := g.matchedCount()

		g.log.Debug().
			Str("first", a.id.String()).
			Str("second", b.id.String()).
			Int("matched", matched).
			Msg("pair matched")

		if matched == len(g.tiles) && !g.completed {
			g.completed = true
			g.scheduler.Schedule(g.completeDelay, g.renderer.NotifyComplete)
		}

		g.resetSelections()
		return
	}

	g.stats.Mismatches++

	g.log.Debug().
		Str("first", a.id.String()).
		Str("second", b.id.String()).
		Dur("delay", g.revealDelay).
		Msg("pair mismatched")

	round := g.round
	g.scheduler.Schedule(g.revealDelay, func() {
		a.visibility = Hidden
		b.visibility = Hidden
		g.renderer.Render(a)
		g.renderer.Render(b)

		if g.round == round {
			g.resetSelections()
		}
	})
}

func (g *Game[K]) resetSelections() {
	g.first = nil
	g.second = nil
	g.locked = false
	g.round++
}

func (g *Game[K]) matchedCount() int {
	n := 0
	for _, t := range g.tiles {
		if t.visibility == Matched {
			n++
		}
	}
	return n
}

// Tiles returns the tiles in board order.
func (g *Game[K]) Tiles() []*Tile[K] {
	out := make([]*Tile[K], len(g.tiles))
	copy(out, g.tiles)
	return out
}

func (g *Game[K]) Tile(id TileID) (*Tile[K], bool) {
	t, ok := g.byID[id]
	return t, ok
}

// Locked reports whether a pair is being resolved.
func (g *Game[K]) Locked() bool { return g.locked }

// Picks returns the pending first and second selections, either of which
// may be nil.
func (g *Game[K]) Picks() (first, second *Tile[K]) { return g.first, g.second }

// Complete reports whether every tile is matched.
func (g *Game[K]) Complete() bool { return g.matchedCount() == len(g.tiles) }

func (g *Game[K]) Stats() Stats { return g.stats }

type nopRenderer[K comparable] struct{}

func (nopRenderer[K]) Render(*Tile[K])    {}
func (nopRenderer[K]) Reorder([]*Tile[K]) {}
func (nopRenderer[K]) NotifyComplete()    {}
