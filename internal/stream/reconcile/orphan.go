package reconcile

import "chat_stream_service/internal/chat/domain"

type orphan struct {
	id domain.MessageID
	ev domain.Event
}

// orphanStore events for ids not yet in the buffer, oldest dropped past max
type orphanStore struct {
	max   int
	items []orphan
}

func newOrphanStore(max int) *orphanStore {
	return &orphanStore{max: max}
}

// add returns false when an older orphan had to be dropped
func (s *orphanStore) add(id domain.MessageID, ev domain.Event) bool {
	s.items = append(s.items, orphan{id: id, ev: ev})
	if len(s.items) > s.max {
		s.items = s.items[len(s.items)-s.max:]
		return false
	}
	return true
}

// take remove and return the events for id in arrival order
func (s *orphanStore) take(id domain.MessageID) []domain.Event {
	var out []domain.Event
	kept := s.items[:0]
	for _, o := range s.items {
		if o.id == id {
			out = append(out, o.ev)
			continue
		}
		kept = append(kept, o)
	}
	s.items = kept
	return out
}

func (s *orphanStore) len() int {
	return len(s.items)
}

func (s *orphanStore) reset() {
	s.items = nil
}
