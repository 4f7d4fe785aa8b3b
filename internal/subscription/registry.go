// Package subscription holds the set of destinations known to the bot.
//
// A destination is a public Telegram channel handle ("@name"). Destinations
// are only ever added: there is no removal, polling is stopped instead.
package subscription

import (
	"errors"
	"regexp"
	"strings"

	"pricebot/internal/shardmap"
)

// Destination is a validated channel handle, including the leading "@".
type Destination string

var destRe = regexp.MustCompile(`^@(\w+)$`)

var ErrInvalidDestination = errors.New("invalid destination")

// Parse validates raw against ^@(\w+)$. Surrounding spaces are trimmed, nothing else.
func Parse(raw string) (Destination, error) {
	s := strings.TrimSpace(raw)
	if !destRe.MatchString(s) {
		return "", ErrInvalidDestination
	}
	return Destination(s), nil
}

func (d Destination) String() string { return string(d) }

// Registry is a concurrent add-only set of destinations.
type Registry struct {
	m *shardmap.Map[struct{}]
}

func NewRegistry() *Registry {
	return &Registry{m: shardmap.New[struct{}](0)}
}

// Add inserts d if absent and reports whether it was newly inserted.
func (r *Registry) Add(d Destination) bool {
	_, loaded := r.m.LoadOrStore(string(d), struct{}{})
	return !loaded
}

func (r *Registry) Contains(d Destination) bool {
	_, ok := r.m.Load(string(d))
	return ok
}

func (r *Registry) Len() int { return r.m.Len() }

// List returns all destinations sorted.
func (r *Registry) List() []Destination {
	keys := r.m.Keys()
	out := make([]Destination, len(keys))
	for i, k := range keys {
		out[i] = Destination(k)
	}
	return out
}
