package wire

// Kind identifies the numeric wire id of a post-Open message. Open itself
// has no Kind — it is distinguished by position (always first) and by the
// MAGIC prefix, never by an id byte.
type Kind uint32

const (
	KindHandshake     Kind = 0
	KindSync          Kind = 1
	KindFilterOptions Kind = 2
	KindData          Kind = 3
	KindRequest       Kind = 4
	KindLink          Kind = 5
)

// KnownKind reports whether id names one of the six message variants this
// version of the protocol understands. Frames with any other id are
// silently skipped by the frame parser so newer peers can speak past
// older ones.
func KnownKind(id uint64) (Kind, bool) {
	switch Kind(id) {
	case KindHandshake, KindSync, KindFilterOptions, KindData, KindRequest, KindLink:
		if uint64(Kind(id)) != id {
			return 0, false
		}
		return Kind(id), true
	default:
		return 0, false
	}
}

// Message is implemented by every decoded post-Open message variant.
type Message interface {
	Kind() Kind
}
