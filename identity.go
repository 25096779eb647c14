package flowtrace

import "github.com/joeycumines/go-flowtrace/internal/activetable"

// ObjectID is the identity of a tracked object: its pointer value reduced to
// an integer. spec.md's design notes call for "a stable, non-value-based
// identity for tracked objects" and note that, absent an intrinsic identity
// hash, the instrumentation layer must supply the object's raw pointer cast
// to an integer. Record's generic signature lets the compiler supply this
// automatically instead.
type ObjectID = activetable.ObjectID
