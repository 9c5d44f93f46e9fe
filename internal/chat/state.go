package chat

import (
	"maps"
	"slices"

	"github.com/Rrens/laundry-chat/internal/domain"
)

// State is a read-only snapshot of a Session. Slices and maps are copies.
type State struct {
	Connected    bool
	Messages     []domain.Message
	Chats        []domain.Conversation
	Selected     *domain.Conversation
	UnreadCounts map[string]int
	Loading      bool
	Error        string
	// Version increases with every change; a listener can drop snapshots
	// older than one it has already seen.
	Version uint64
}

// Unread returns the unread count for orderID; a missing entry means zero
func (s State) Unread(orderID string) int {
	return s.UnreadCounts[orderID]
}

// SelectedOrderID returns the order id of the selected conversation, or ""
func (s State) SelectedOrderID() string {
	if s.Selected == nil {
		return ""
	}
	return s.Selected.OrderID
}

// Listener is notified with a fresh snapshot after every state change
type Listener func(State)

type state struct {
	connected    bool
	messages     []domain.Message
	chats        []domain.Conversation
	selected     *domain.Conversation
	unreadCounts map[string]int
	loading      bool
	lastError    string
}

func (st *state) snapshot() State {
	s := State{
		Connected:    st.connected,
		Messages:     slices.Clone(st.messages),
		Chats:        slices.Clone(st.chats),
		UnreadCounts: maps.Clone(st.unreadCounts),
		Loading:      st.loading,
		Error:        st.lastError,
	}
	if s.UnreadCounts == nil {
		s.UnreadCounts = map[string]int{}
	}
	if st.selected != nil {
		sel := *st.selected
		s.Selected = &sel
	}
	return s
}

func (st *state) selectedOrderID() string {
	if st.selected == nil {
		return ""
	}
	return st.selected.OrderID
}

func (st *state) hasMessage(id string) bool {
	if id == "" {
		return false
	}
	return slices.ContainsFunc(st.messages, func(m domain.Message) bool { return m.ID == id })
}

// recentMessageIDs bounds how many delivered message ids are remembered for
// conversations whose messages are not loaded.
const recentMessageIDs = 256

// idRing remembers the last n ids added; older ids are forgotten
type idRing struct {
	ids  []string
	next int
	set  map[string]struct{}
}

func newIDRing(n int) *idRing {
	return &idRing{ids: make([]string, n), set: make(map[string]struct{}, n)}
}

func (r *idRing) contains(id string) bool {
	if id == "" {
		return false
	}
	_, ok := r.set[id]
	return ok
}

func (r *idRing) add(id string) {
	if id == "" || r.contains(id) || len(r.ids) == 0 {
		return
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
}

func (r *idRing) size() int {
	return len(r.set)
}
