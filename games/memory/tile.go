/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package memory

import (
	"github.com/google/uuid"
)

// Visibility is the display state of a tile.
type Visibility int

const (
	Hidden Visibility = iota
	Flipped
	Matched
)

func (v Visibility) String() string {
	switch v {
	case Hidden:
		return "hidden"
	case Flipped:
		return "flipped"
	case Matched:
		return "matched"
	default:
		return "unknown"
	}
}

// TileID identifies a tile for the lifetime of a game, independent of
// where the tile currently sits on the board.
type TileID = uuid.UUID

// Tile is a single card on the board. Only its visibility and position
// change during play.
type Tile[K comparable] struct {
	id         TileID
	key        K
	visibility Visibility
	position   int
}

func (t *Tile[K]) ID() TileID { return t.id }

// Key returns the match key. Two tiles pair when their keys are equal.
func (t *Tile[K]) Key() K { return t.key }

func (t *Tile[K]) Visibility() Visibility { return t.visibility }

// Position is the tile's index on the board after the last shuffle.
func (t *Tile[K]) Position() int { return t.position }

// Revealed reports whether the tile's key may be shown to the player.
func (t *Tile[K]) Revealed() bool {
	return t.visibility == Flipped || t.visibility == Matched
}
