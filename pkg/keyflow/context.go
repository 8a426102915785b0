package keyflow

import "go.uber.org/atomic"

// KeyContext is the handle a key's flow and timers use to participate in
// commit arbitration. Hold pins an offset that must be committed before the
// engine is allowed to pass it; RemoveSelf drops the key from the owning
// partition's cache and releases its resources. Both may be called from the
// key's flow or timer callbacks, never concurrently with each other for the
// same key (see PartitionFlow's per-key ordering guarantee).
type KeyContext struct {
	hold       atomic.Pointer[Offset]
	removeSelf func()
}

func newKeyContext(removeSelf func()) *KeyContext {
	return &KeyContext{removeSelf: removeSelf}
}

// Hold sets the offset whose processing is still outstanding for this key.
// The engine will not advance the committed offset past it.
func (c *KeyContext) Hold(offset Offset) {
	o := offset
	c.hold.Store(&o)
}

// Release clears the key's hold. With nothing pending, the key no longer
// blocks commits.
func (c *KeyContext) Release() {
	c.hold.Store(nil)
}

// HoldOffset reports the key's current hold, if any.
func (c *KeyContext) HoldOffset() (Offset, bool) {
	p := c.hold.Load()
	if p == nil {
		return 0, false
	}
	return *p, true
}

// RemoveSelf drops this key from its partition's cache. Idempotent: calling
// it more than once, or after the key has already been removed by another
// path, has no additional effect.
func (c *KeyContext) RemoveSelf() {
	c.removeSelf()
}
