package memory

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// ErrInvalidBoard is returned when the tile keys do not form a valid
// board: the count must be even and non-zero, and every key must appear
// on exactly two tiles.
var ErrInvalidBoard = errors.New("invalid board configuration")

func validateKeys[K comparable](keys []K) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: no tiles", ErrInvalidBoard)
	}
	if len(keys)%2 != 0 {
		return fmt.Errorf("%w: odd tile count %d", ErrInvalidBoard, len(keys))
	}

	counts := make(map[K]int, len(keys)/2)
	for _, k := range keys {
		counts[k]++
	}
	for k, n := range counts {
		if n != 2 {
			return fmt.Errorf("%w: key %v appears %d times", ErrInvalidBoard, k, n)
		}
	}

	return nil
}

func newTiles[K comparable](keys []K) []*Tile[K] {
	tiles := make([]*Tile[K], len(keys))
	for i, k := range keys {
		tiles[i] = &Tile[K]{
			id:       uuid.New(),
			key:      k,
			position: i,
		}
	}
	return tiles
}

// shuffle permutes tiles in place with Fisher-Yates and renumbers their
// positions. j is drawn from [0, i] inclusive, so every permutation is
// equally likely.
func shuffle[K comparable](rng *rand.Rand, tiles []*Tile[K]) {
	for i := len(tiles) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		tiles[i], tiles[j] = tiles[j], tiles[i]
	}

	for i, t := range tiles {
		t.position = i
	}
}

// Pairs doubles each key so the result can be passed to New.
func Pairs[K comparable](keys []K) []K {
	out := make([]K, 0, len(keys)*2)
	for _, k := range keys {
		out = append(out, k, k)
	}
	return out
}
