package triepath

import "golang.org/x/exp/constraints"

// saturatingIncrement returns cur+1, or cur unchanged if it has already
// reached max. It is the generic bound style the teacher corpus's
// catrate package uses for its own saturating counters
// (joeycumines/go-utilpkg/catrate/ring.go's constraints.Unsigned bound),
// factored out here since Node packs two independently-saturating
// counters into one word and both need the same clamp logic.
func saturatingIncrement[T constraints.Unsigned](cur, max T) T {
	if cur >= max {
		return cur
	}
	return cur + 1
}
