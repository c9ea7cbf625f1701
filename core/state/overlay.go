package state

import (
	"fmt"

	"ipmarket/storage"
)

// Overlay buffers writes over a base database until Commit. Reads see the
// buffered writes first, then fall through to the base. Discarding the
// overlay leaves the base untouched, which is how a failed operation rolls
// back atomically.
type Overlay struct {
	base   storage.Database
	writes map[string][]byte
}

// NewOverlay creates an empty overlay over base.
func NewOverlay(base storage.Database) *Overlay {
	return &Overlay{
		base:   base,
		writes: make(map[string][]byte),
	}
}

// Get returns the buffered value if present, otherwise reads the base.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	if value, ok := o.writes[string(key)]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.base.Get(key)
}

// Put buffers the write; the base is untouched until Commit.
func (o *Overlay) Put(key, value []byte) error {
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

// Close is a no-op; the overlay does not own the base database.
func (o *Overlay) Close() {}

// Commit flushes the buffered writes to the base database and resets the
// overlay. Writes are applied in an unspecified order; callers rely on the
// flush being all-or-nothing at the operation level, which holds because a
// failed operation never reaches Commit.
func (o *Overlay) Commit() error {
	for key, value := range o.writes {
		if err := o.base.Put([]byte(key), value); err != nil {
			return fmt.Errorf("state: commit overlay: %w", err)
		}
	}
	o.writes = make(map[string][]byte)
	return nil
}

// Discard drops the buffered writes.
func (o *Overlay) Discard() {
	o.writes = make(map[string][]byte)
}

// Dirty reports whether the overlay holds uncommitted writes.
func (o *Overlay) Dirty() bool { return len(o.writes) > 0 }
