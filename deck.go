package main

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
)

// defaultDeck is used when no deck file is configured. Each entry is the
// match key shown on the face of two tiles.
var defaultDeck = []string{
	"🍎", "🍌", "🍒", "🍇", "🍉", "🍋", "🍑", "🍍",
	"🥝", "🥥", "🍓", "🫐", "🥕", "🌽", "🍄", "🌶️",
	"🐙", "🦊", "🐢", "🦉", "🐝", "🦋", "🐳", "🦀",
}

// loadDeck reads one key per line from path, skipping blank lines, "#"
// comments and repeated keys. An empty path returns the built-in deck.
func loadDeck(path string) ([]string, error) {
	if path == "" {
		return defaultDeck, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deck: %w", err)
	}
	defer f.Close()

	var deck []string
	seen := make(map[string]struct{})

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key := strings.TrimSpace(sc.Text())
		if key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deck = append(deck, key)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read deck: %w", err)
	}

	if len(deck) == 0 {
		return nil, fmt.Errorf("deck %s has no keys", path)
	}

	return deck, nil
}

// deal picks n distinct keys from deck at random.
func deal(deck []string, n int) []string {
	keys := make([]string, len(deck))
	copy(keys, deck)

	rand.Shuffle(len(keys), func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})

	return keys[:min(n, len(keys))]
}
