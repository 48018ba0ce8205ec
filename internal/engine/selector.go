package engine

import (
	"log/slog"
	"sort"
	"strings"
)

// Selector resolves engine identifiers to engines. It is built once at
// startup and is read-only afterwards.
type Selector struct {
	engines   map[ID]Engine
	defaultID ID
	logger    *slog.Logger
}

// NewSelector registers engines and picks defaultID as the fallback. If
// defaultID is not registered the first engine in id order becomes the
// default so Select never returns nil while any engine exists.
func NewSelector(defaultID ID, logger *slog.Logger, engines ...Engine) *Selector {
	s := &Selector{
		engines: make(map[ID]Engine, len(engines)),
		logger:  logger.With("component", "engine_selector"),
	}
	for _, e := range engines {
		s.engines[e.ID()] = e
	}
	if _, ok := s.engines[defaultID]; !ok && len(s.engines) > 0 {
		ids := s.IDs()
		s.logger.Warn("default engine not registered, falling back",
			"requested_default", defaultID,
			"fallback", ids[0])
		defaultID = ids[0]
	}
	s.defaultID = defaultID
	return s
}

// DefaultID returns the identifier used for empty or unknown requests.
func (s *Selector) DefaultID() ID {
	return s.defaultID
}

// Lookup returns the engine registered under id, without fallback.
func (s *Selector) Lookup(id string) (Engine, bool) {
	e, ok := s.engines[ID(strings.TrimSpace(id))]
	return e, ok
}

// Select returns the engine for id. An empty id yields the default engine;
// an unknown id logs a warning and also yields the default.
func (s *Selector) Select(id string) Engine {
	id = strings.TrimSpace(id)
	if id == "" {
		return s.engines[s.defaultID]
	}
	if e, ok := s.engines[ID(id)]; ok {
		return e
	}
	s.logger.Warn("unknown engine requested, using default",
		"requested", id,
		"default", s.defaultID)
	return s.engines[s.defaultID]
}

// IDs returns the registered identifiers in sorted order.
func (s *Selector) IDs() []ID {
	ids := make([]ID, 0, len(s.engines))
	for id := range s.engines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
