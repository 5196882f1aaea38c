package manager

import "weak"

// Page identifies the document currently loaded in a window. Jobs are bound to
// the page that scheduled them; implementations must be comparable (pointers).
type Page interface {
	PageID() string
}

// Owner is the window a JobManager serves.
type Owner interface {
	// CurrentPage returns the page currently enclosed by the window, or nil once
	// the window is closed.
	CurrentPage() Page
}

// OwnerRef resolves the manager's owner. It returns nil once the owner is gone.
type OwnerRef func() Owner

// Weak returns an OwnerRef that does not keep o alive.
func Weak[T any, P interface {
	*T
	Owner
}](o P) OwnerRef {
	wp := weak.Make((*T)(o))
	return func() Owner {
		p := wp.Value()
		if p == nil {
			return nil
		}
		return P(p)
	}
}

// Strong returns an OwnerRef holding o. Meant for tests and short-lived hosts.
func Strong(o Owner) OwnerRef {
	return func() Owner { return o }
}
