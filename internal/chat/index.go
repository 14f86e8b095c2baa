package chat

import "github.com/google/btree"

// recencyKey orders chats newest first, then by name. pos points back into
// Store.chats.
type recencyKey struct {
	lastModified int64
	name         string
	pos          int
}

func lessRecency(a, b recencyKey) bool {
	if a.lastModified != b.lastModified {
		return a.lastModified > b.lastModified
	}
	if a.name != b.name {
		return a.name < b.name
	}
	return a.pos < b.pos
}

func keyOf(s *Store, pos int) recencyKey {
	c := &s.chats[pos]
	return recencyKey{lastModified: c.LastModified, name: c.Name, pos: pos}
}

// rebuildLocked recomputes the name and recency indices from s.chats.
func (s *Store) rebuildLocked() {
	s.byName = make(map[string]int, len(s.chats))
	s.recency = btree.NewG[recencyKey](16, lessRecency)
	for i := range s.chats {
		s.byName[s.chats[i].Name] = i
		s.recency.ReplaceOrInsert(keyOf(s, i))
	}
}

// touchLocked sets the modification time of the chat at pos and moves it
// in the recency index.
func (s *Store) touchLocked(pos int) {
	s.recency.Delete(keyOf(s, pos))
	s.chats[pos].LastModified = s.now().Unix()
	s.recency.ReplaceOrInsert(keyOf(s, pos))
}

// renameLocked changes the name of the chat at pos in both indices.
func (s *Store) renameLocked(pos int, name string) {
	s.recency.Delete(keyOf(s, pos))
	delete(s.byName, s.chats[pos].Name)
	s.chats[pos].Name = name
	s.byName[name] = pos
	s.recency.ReplaceOrInsert(keyOf(s, pos))
}

// mostRecentLocked returns the position of the most recently modified chat,
// or -1 for an empty store.
func (s *Store) mostRecentLocked() int {
	k, ok := s.recency.Min()
	if !ok {
		return -1
	}
	return k.pos
}

// orderedLocked returns chat positions in recency order.
func (s *Store) orderedLocked() []int {
	out := make([]int, 0, s.recency.Len())
	s.recency.Ascend(func(k recencyKey) bool {
		out = append(out, k.pos)
		return true
	})
	return out
}
