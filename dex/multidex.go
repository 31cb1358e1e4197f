package dex

import "fmt"

// MultiDex is a primary DEX plus zero or more secondaries, exposing
// unified lookup by DEX identifier and iteration over every (dex, class)
// pair. Identifiers are unique across the set; Add rejects a collision
// rather than silently shadowing an existing entry.
type MultiDex struct {
	order []string
	files map[string]*File
}

// NewMultiDex creates an empty set.
func NewMultiDex() *MultiDex {
	return &MultiDex{files: make(map[string]*File)}
}

// Add registers f under its own identifier.
func (m *MultiDex) Add(f *File) error {
	id := f.ID()
	if existing, exists := m.files[id]; exists {
		return fmt.Errorf("dex: duplicate dex identifier %s (%s already loaded)", id, existing.Name)
	}
	m.files[id] = f
	m.order = append(m.order, id)
	return nil
}

// Lookup returns the DEX registered under id.
func (m *MultiDex) Lookup(id string) (*File, bool) {
	f, ok := m.files[id]
	return f, ok
}

// Files returns every DEX in the set, in the order they were added.
func (m *MultiDex) Files() []*File {
	out := make([]*File, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.files[id])
	}
	return out
}

// Len returns the number of DEX files in the set.
func (m *MultiDex) Len() int { return len(m.order) }

// ClassItem pairs a decoded class with the DEX it came from, the unit of
// work xref and graph fan out over.
type ClassItem struct {
	Dex   *File
	Class *ClassDef
}

// AllClasses returns every (dex, class) pair across the set, in
// file-then-parse order. Across DEX files and across classes within a DEX
// there is no ordering guarantee on downstream discovery events — callers
// that need determinism sort afterwards.
func (m *MultiDex) AllClasses() []ClassItem {
	var out []ClassItem
	for _, f := range m.Files() {
		for _, cd := range f.Classes.All() {
			out = append(out, ClassItem{Dex: f, Class: cd})
		}
	}
	return out
}
