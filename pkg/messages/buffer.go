package messages

// MessageBuffer is an ordered, mutable log of chat turns with transactional
// semantics. It maintains two snapshots: the committed baseline and the
// working state that accumulates uncommitted additions.
//
// Postconditions:
//
//	Add(m)     working = working + [m]
//	Commit()   committed = working
//	Rollback() working = committed
//	Revert()   working = committed (alias of Rollback)
//	Clear()    working = [], committed unchanged (Rollback restores it)
//	Reset()    working = [], committed = []
//
// MessageBuffer is not safe for concurrent use; each buffer is owned by a
// single session.
type MessageBuffer struct {
	committed []Message
	working   []Message
}

// NewMessageBuffer creates a buffer seeded with the given messages. The
// seed messages form both the committed baseline and the working state.
func NewMessageBuffer(seed ...Message) *MessageBuffer {
	b := &MessageBuffer{}
	b.working = append(b.working, seed...)
	b.committed = snapshot(b.working)
	return b
}

func snapshot(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Add appends a message to the working state.
func (b *MessageBuffer) Add(m Message) {
	b.working = append(b.working, m)
}

// AddAll appends multiple messages to the working state in order.
func (b *MessageBuffer) AddAll(msgs ...Message) {
	b.working = append(b.working, msgs...)
}

// Commit promotes the working state to the committed baseline.
func (b *MessageBuffer) Commit() {
	b.committed = snapshot(b.working)
}

// Rollback discards all uncommitted changes, restoring the working state to
// the last committed snapshot.
func (b *MessageBuffer) Rollback() {
	b.working = snapshot(b.committed)
}

// Revert discards uncommitted changes, restoring the working state to the
// last committed snapshot. Same postcondition as Rollback.
func (b *MessageBuffer) Revert() {
	b.working = snapshot(b.committed)
}

// Clear empties the working state only. The committed baseline is kept, so
// a subsequent Rollback or Revert restores it.
func (b *MessageBuffer) Clear() {
	b.working = nil
}

// Reset empties both snapshots, returning the buffer to its initial empty
// state.
func (b *MessageBuffer) Reset() {
	b.working = nil
	b.committed = nil
}

// Working returns a copy of the current working state.
func (b *MessageBuffer) Working() []Message {
	return snapshot(b.working)
}

// Committed returns a copy of the committed baseline.
func (b *MessageBuffer) Committed() []Message {
	return snapshot(b.committed)
}

// Pending returns a copy of additions made since the last commit. When the
// working state diverges from the committed baseline other than by appends
// (after Clear), Pending returns the whole working state.
func (b *MessageBuffer) Pending() []Message {
	if len(b.working) < len(b.committed) {
		return snapshot(b.working)
	}
	for i := range b.committed {
		if b.working[i].ID != b.committed[i].ID {
			return snapshot(b.working)
		}
	}
	return snapshot(b.working[len(b.committed):])
}

// Len returns the number of messages in the working state.
func (b *MessageBuffer) Len() int {
	return len(b.working)
}

// Last returns the most recent working message, or false if the buffer is
// empty.
func (b *MessageBuffer) Last() (Message, bool) {
	if len(b.working) == 0 {
		return Message{}, false
	}
	return b.working[len(b.working)-1], true
}
