package entry

// State is where a tier stands for one entry. The values are ordered: each
// state implies the bytes are at least as available as the one before it.
type State int

const (
	Absent State = iota
	// Copy means a regular file holds the bytes.
	Copy
	// Link means the bytes are reached through a link into the anchor store.
	Link
	// Locked means the bytes are present and write protected.
	Locked
)

func (s State) String() string {
	switch s {
	case Copy:
		return "copy"
	case Link:
		return "link"
	case Locked:
		return "locked"
	default:
		return "absent"
	}
}

// Present reports whether the tier holds the bytes in any form.
func (s State) Present() bool { return s != Absent }

// Presence is filled by the tier chain's Status walk.
type Presence struct {
	Working State
	Cache   State
	Depot   State

	// IsLinked is true when the working path is a symlink to the expected anchor.
	IsLinked bool
	// InAnchors is true when the anchor object exists.
	InAnchors bool
	// Size is the byte size of the first local copy found, or of the depot
	// object when no local copy exists.
	Size int64
	// DepotSize is the object size reported by the depot.
	DepotSize int64
}

// Dirty reports whether something other than the expected symlink occupies
// the working path.
func (p Presence) Dirty() bool {
	return p.Working.Present() && !p.IsLinked
}

// Reset clears every flag before a fresh Status walk.
func (e *Entry) Reset() {
	e.Presence = Presence{}
}
