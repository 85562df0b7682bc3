package timer

import (
	"container/heap"
	"time"
)

// wakeup is one scheduled fire. There is at most one per timer key.
type wakeup struct {
	key    string
	chatID int64
	at     time.Time
	index  int
}

// wakeQueue is a min-heap of wake-ups ordered by time, then key.
type wakeQueue []*wakeup

func (q wakeQueue) Len() int { return len(q) }

func (q wakeQueue) Less(i, j int) bool {
	if !q[i].at.Equal(q[j].at) {
		return q[i].at.Before(q[j].at)
	}
	return q[i].key < q[j].key
}

func (q wakeQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *wakeQueue) Push(x any) {
	w := x.(*wakeup)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *wakeQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

// schedule keyed wake-ups; callers hold the service lock.
type schedule struct {
	q     wakeQueue
	byKey map[string]*wakeup
}

func newSchedule() *schedule {
	return &schedule{byKey: make(map[string]*wakeup)}
}

// set places or moves the single wake-up for key.
func (s *schedule) set(key string, chatID int64, at time.Time) {
	if w, ok := s.byKey[key]; ok {
		w.at = at
		heap.Fix(&s.q, w.index)
		return
	}
	w := &wakeup{key: key, chatID: chatID, at: at}
	heap.Push(&s.q, w)
	s.byKey[key] = w
}

func (s *schedule) remove(key string) bool {
	w, ok := s.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&s.q, w.index)
	delete(s.byKey, key)
	return true
}

// next returns the earliest wake-up time.
func (s *schedule) next() (time.Time, bool) {
	if len(s.q) == 0 {
		return time.Time{}, false
	}
	return s.q[0].at, true
}

// popDue removes and returns every key due at or before now, earliest first.
func (s *schedule) popDue(now time.Time) []string {
	var keys []string
	for len(s.q) > 0 && !s.q[0].at.After(now) {
		w := heap.Pop(&s.q).(*wakeup)
		delete(s.byKey, w.key)
		keys = append(keys, w.key)
	}
	return keys
}

// removeChat drops every wake-up belonging to chatID.
func (s *schedule) removeChat(chatID int64) int {
	var keys []string
	for _, w := range s.q {
		if w.chatID == chatID {
			keys = append(keys, w.key)
		}
	}
	for _, k := range keys {
		s.remove(k)
	}
	return len(keys)
}

func (s *schedule) len() int { return len(s.q) }
