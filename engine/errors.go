package engine

import "errors"

// ErrDeleteUnsupported is returned by Submit for KindDelete-equivalent
// requests. spec.md's Open Questions leave leaf underflow, sibling
// borrow/merge and root demotion unspecified; rather than silently
// dropping a delete (which would look like data loss to a caller) this
// engine rejects it explicitly. See DESIGN.md.
var ErrDeleteUnsupported = errors.New("engine: delete has no async implementation")

// errPathTooShort marks the recoverable condition from spec.md §7 ("Path
// too short during split"): a split node's path had fewer than two
// entries and the node was not the root. It never escapes to a caller;
// it only appears in debug logging before the engine falls back to a
// separator-guided re-traversal.
var errPathTooShort = errors.New("engine: split path shorter than two entries")
