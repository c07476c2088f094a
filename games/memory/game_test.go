package memory

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scheduled struct {
	delay time.Duration
	task  func()
}

// manualScheduler queues tasks until the test runs them.
type manualScheduler struct {
	tasks []scheduled
}

func (s *manualScheduler) Schedule(d time.Duration, task func()) {
	s.tasks = append(s.tasks, scheduled{delay: d, task: task})
}

func (s *manualScheduler) runAll() {
	for len(s.tasks) > 0 {
		next := s.tasks[0]
		s.tasks = s.tasks[1:]
		next.task()
	}
}

type rendered struct {
	id         TileID
	visibility Visibility
}

type recorder struct {
	renders   []rendered
	reorders  [][]TileID
	completes int
}

func (r *recorder) Render(t *Tile[string]) {
	r.renders = append(r.renders, rendered{id: t.ID(), visibility: t.Visibility()})
}

func (r *recorder) Reorder(tiles []*Tile[string]) {
	ids := make([]TileID, len(tiles))
	for i, t := range tiles {
		ids[i] = t.ID()
	}
	r.reorders = append(r.reorders, ids)
}

func (r *recorder) NotifyComplete() { r.completes++ }

func newTestGame(t *testing.T, keys []string) (*Game[string], *recorder, *manualScheduler) {
	t.Helper()

	rec := &recorder{}
	sched := &manualScheduler{}
	g, err := New(keys, rec, sched, WithRand(rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, err)

	return g, rec, sched
}

func visibilities(g *Game[string]) []Visibility {
	out := make([]Visibility, 0, len(g.tiles))
	for _, t := range g.Tiles() {
		out = append(out, t.Visibility())
	}
	return out
}

func TestNewValidatesBoard(t *testing.T) {
	tests := []struct {
		name  string
		keys  []string
		valid bool
	}{
		{name: "empty", keys: nil},
		{name: "odd count", keys: []string{"a", "a", "b"}},
		{name: "key three times", keys: []string{"a", "a", "a", "b"}},
		{name: "unpaired keys", keys: []string{"a", "b"}},
		{name: "key four times", keys: []string{"a", "a", "a", "a"}},
		{name: "one pair", keys: []string{"a", "a"}, valid: true},
		{name: "interleaved pairs", keys: []string{"a", "b", "c", "a", "c", "b"}, valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.keys, nil, &manualScheduler{})
			if tt.valid {
				require.NoError(t, err)
				assert.Len(t, g.Tiles(), len(tt.keys))
				return
			}
			assert.ErrorIs(t, err, ErrInvalidBoard)
			assert.Nil(t, g)
		})
	}
}

func TestNewRequiresScheduler(t *testing.T) {
	_, err := New(Pairs([]string{"a"}), nil, nil)
	assert.ErrorIs(t, err, ErrNoScheduler)
}

func TestInitializeIsPermutation(t *testing.T) {
	for n := 1; n <= 10; n++ {
		keys := make([]int, n)
		for i := range keys {
			keys[i] = i * 7
		}

		g, err := New(Pairs(keys), nil, &manualScheduler{}, WithRand(rand.New(rand.NewPCG(uint64(n), 99))))
		require.NoError(t, err)

		before := make(map[TileID]int)
		wantKeys := make(map[int]int)
		for _, tile := range g.Tiles() {
			before[tile.ID()] = tile.Key()
			wantKeys[tile.Key()]++
		}

		g.Initialize()

		gotKeys := make(map[int]int)
		for pos, tile := range g.Tiles() {
			assert.Equal(t, pos, tile.Position(), "position must match board index")
			assert.Equal(t, before[tile.ID()], tile.Key(), "tile identity must keep its key")
			gotKeys[tile.Key()]++
			delete(before, tile.ID())
		}

		assert.Empty(t, before, "every tile must still be on the board")
		assert.Equal(t, wantKeys, gotKeys)
	}
}

func TestInitializeReordersAndResets(t *testing.T) {
	g, rec, _ := newTestGame(t, Pairs([]string{"a", "b"}))

	tiles := g.Tiles()
	require.True(t, g.Activate(tiles[0]))
	require.True(t, g.Activate(tiles[2]))
	require.True(t, g.Locked())

	g.Initialize()

	require.Len(t, rec.reorders, 1)
	order := make([]TileID, 0, len(tiles))
	for _, tile := range g.Tiles() {
		order = append(order, tile.ID())
	}
	assert.Equal(t, order, rec.reorders[0])

	first, second := g.Picks()
	assert.Nil(t, first)
	assert.Nil(t, second)
	assert.False(t, g.Locked())
}

func TestShuffleIsUniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	counts := make(map[[3]int]int)

	const trials = 6000
	for range trials {
		tiles := newTiles([]int{0, 1, 2})
		shuffle(rng, tiles)
		counts[[3]int{tiles[0].Key(), tiles[1].Key(), tiles[2].Key()}]++
	}

	require.Len(t, counts, 6, "all permutations of three tiles must be reachable")
	for perm, n := range counts {
		assert.InDelta(t, trials/6, n, 200, "permutation %v drawn %d times", perm, n)
	}
}

func TestShuffleCanLeaveTilesInPlace(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	stayed := 0

	for range 200 {
		tiles := newTiles([]string{"x", "y"})
		first := tiles[0].ID()
		shuffle(rng, tiles)
		if tiles[0].ID() == first {
			stayed++
		}
	}

	assert.Positive(t, stayed)
	assert.Less(t, stayed, 200)
}

func TestSinglePairPlaythrough(t *testing.T) {
	g, rec, sched := newTestGame(t, Pairs([]string{"a"}))
	g.Initialize()

	a, b := g.Tiles()[0], g.Tiles()[1]

	require.True(t, g.Activate(a))
	assert.Equal(t, Flipped, a.Visibility())
	first, second := g.Picks()
	assert.Same(t, a, first)
	assert.Nil(t, second)
	assert.False(t, g.Locked())

	require.True(t, g.Activate(b))
	assert.Equal(t, Matched, a.Visibility())
	assert.Equal(t, Matched, b.Visibility())
	assert.False(t, g.Locked(), "a match unlocks the board at once")
	assert.True(t, g.Complete())

	require.Len(t, sched.tasks, 1)
	assert.Equal(t, DefaultCompleteDelay, sched.tasks[0].delay)
	assert.Zero(t, rec.completes, "completion waits for the scheduler")

	sched.runAll()
	assert.Equal(t, 1, rec.completes)

	assert.Equal(t, []rendered{
		{a.ID(), Flipped},
		{b.ID(), Flipped},
		{a.ID(), Matched},
		{b.ID(), Matched},
	}, rec.renders)
}

func TestMismatchRevertsAfterDelay(t *testing.T) {
	g, rec, sched := newTestGame(t, Pairs([]string{"a", "b"}))
	tiles := g.Tiles()

	require.True(t, g.Activate(tiles[0]))
	require.True(t, g.Activate(tiles[2]))

	assert.True(t, g.Locked())
	assert.Equal(t, Flipped, tiles[0].Visibility())
	assert.Equal(t, Flipped, tiles[2].Visibility())
	require.Len(t, sched.tasks, 1)
	assert.Equal(t, DefaultRevealDelay, sched.tasks[0].delay)

	sched.runAll()

	assert.False(t, g.Locked())
	assert.Equal(t, []Visibility{Hidden, Hidden, Hidden, Hidden}, visibilities(g))
	first, second := g.Picks()
	assert.Nil(t, first)
	assert.Nil(t, second)
	assert.Zero(t, rec.completes)
	assert.Equal(t, Stats{Activations: 2, Mismatches: 1}, g.Stats())
}

func TestActivateIgnoredWhileLocked(t *testing.T) {
	g, _, sched := newTestGame(t, Pairs([]string{"a", "b", "c"}))
	tiles := g.Tiles()

	require.True(t, g.Activate(tiles[0]))
	require.True(t, g.Activate(tiles[2]))
	require.True(t, g.Locked())

	before := visibilities(g)
	for _, tile := range tiles {
		assert.False(t, g.Activate(tile))
	}
	assert.Equal(t, before, visibilities(g))
	assert.Len(t, sched.tasks, 1, "only one resolution may be pending")

	sched.runAll()
	assert.True(t, g.Activate(tiles[4]))
}

func TestActivateIgnoresFlippedAndMatched(t *testing.T) {
	g, rec, _ := newTestGame(t, Pairs([]string{"a", "b"}))
	tiles := g.Tiles()

	require.True(t, g.Activate(tiles[0]))
	assert.False(t, g.Activate(tiles[0]), "the first pick cannot be picked again")
	_, second := g.Picks()
	assert.Nil(t, second)

	require.True(t, g.Activate(tiles[1]))
	renders := len(rec.renders)

	assert.False(t, g.Activate(tiles[0]))
	assert.False(t, g.Activate(tiles[1]))
	assert.Equal(t, Matched, tiles[0].Visibility())
	assert.Equal(t, Matched, tiles[1].Visibility())
	assert.Len(t, rec.renders, renders)
}

func TestActivateIgnoresForeignAndUnknownTiles(t *testing.T) {
	g, _, _ := newTestGame(t, Pairs([]string{"a"}))
	other, _, _ := newTestGame(t, Pairs([]string{"a"}))

	assert.False(t, g.Activate(nil))
	assert.False(t, g.Activate(other.Tiles()[0]))
	assert.False(t, g.ActivateID(uuid.New()))
	assert.Equal(t, []Visibility{Hidden, Hidden}, visibilities(g))

	assert.True(t, g.ActivateID(g.Tiles()[1].ID()))
	assert.Equal(t, Flipped, g.Tiles()[1].Visibility())
}

func TestCompletionFiresOnce(t *testing.T) {
	g, rec, sched := newTestGame(t, Pairs([]string{"a", "b"}))
	tiles := g.Tiles()

	require.True(t, g.Activate(tiles[0]))
	require.True(t, g.Activate(tiles[1]))
	assert.Empty(t, sched.tasks, "no notification before the board is complete")
	assert.False(t, g.Complete())

	require.True(t, g.Activate(tiles[3]))
	require.True(t, g.Activate(tiles[2]))
	require.Len(t, sched.tasks, 1)

	for _, tile := range tiles {
		assert.False(t, g.Activate(tile))
	}

	sched.runAll()
	assert.Equal(t, 1, rec.completes)
	assert.Equal(t, Stats{Activations: 4, Matches: 2}, g.Stats())
}

func TestCustomDelays(t *testing.T) {
	sched := &manualScheduler{}
	g, err := New(Pairs([]string{"a", "b"}), nil, sched,
		WithRevealDelay(2*time.Second),
		WithCompleteDelay(10*time.Millisecond),
	)
	require.NoError(t, err)
	tiles := g.Tiles()

	g.Activate(tiles[0])
	g.Activate(tiles[2])
	require.Len(t, sched.tasks, 1)
	assert.Equal(t, 2*time.Second, sched.tasks[0].delay)
	sched.runAll()

	g.Activate(tiles[0])
	g.Activate(tiles[1])
	g.Activate(tiles[2])
	g.Activate(tiles[3])
	require.Len(t, sched.tasks, 1)
	assert.Equal(t, 10*time.Millisecond, sched.tasks[0].delay)
}

func TestStaleRevertKeepsNewSelection(t *testing.T) {
	g, _, sched := newTestGame(t, Pairs([]string{"a", "b", "c"}))
	tiles := g.Tiles()
	a, b := tiles[0], tiles[2]

	require.True(t, g.Activate(a))
	require.True(t, g.Activate(b))
	require.True(t, g.Locked())

	g.Initialize()
	require.False(t, g.Locked())

	c := tiles[4]
	require.True(t, g.Activate(c))

	sched.runAll()

	assert.Equal(t, Hidden, a.Visibility())
	assert.Equal(t, Hidden, b.Visibility())
	first, _ := g.Picks()
	assert.Same(t, c, first, "a revert from an earlier round must not clear the current pick")
	assert.Equal(t, Flipped, c.Visibility())
}

func TestVisibilityString(t *testing.T) {
	tests := []struct {
		v    Visibility
		want string
	}{
		{Hidden, "hidden"},
		{Flipped, "flipped"},
		{Matched, "matched"},
		{Visibility(9), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.String())
	}
}
