package view

import (
	"container/list"
	"sync"
	"time"
)

// storeEntry открытое представление и время последнего обращения
type storeEntry struct {
	id       string
	view     *View
	lastUsed time.Time
}

// store потокобезопасный LRU открытых представлений с TTL простоя.
// При превышении емкости вытесняется самое давно использованное представление.
type store struct {
	capacity  int
	ttl       time.Duration
	items     map[string]*list.Element
	evictList *list.List
	mu        sync.Mutex
	now       func() time.Time

	// Метрики
	hits   uint64
	misses uint64
}

// newStore создает новый store
func newStore(capacity int, ttl time.Duration) *store {
	return &store{
		capacity:  capacity,
		ttl:       ttl,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		now:       time.Now,
	}
}

// get возвращает представление и продлевает его жизнь
func (s *store) get(id string) (*View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[id]
	if !ok {
		s.misses++
		return nil, false
	}

	entry := elem.Value.(*storeEntry)
	if s.ttl > 0 && s.now().Sub(entry.lastUsed) > s.ttl {
		s.misses++
		return nil, false
	}

	entry.lastUsed = s.now()
	s.evictList.MoveToFront(elem)
	s.hits++
	return entry.view, true
}

// add добавляет представление; возвращает вытесненные по емкости
func (s *store) add(v *View) []*View {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[v.ID]; ok {
		entry := elem.Value.(*storeEntry)
		entry.view = v
		entry.lastUsed = s.now()
		s.evictList.MoveToFront(elem)
		return nil
	}

	elem := s.evictList.PushFront(&storeEntry{id: v.ID, view: v, lastUsed: s.now()})
	s.items[v.ID] = elem

	var evicted []*View
	for s.capacity > 0 && s.evictList.Len() > s.capacity {
		if old := s.removeOldest(); old != nil {
			evicted = append(evicted, old)
		}
	}
	return evicted
}

// remove удаляет представление
func (s *store) remove(id string) (*View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return s.removeElement(elem), true
}

// expired удаляет и возвращает представления, простаивающие дольше TTL
func (s *store) expired() []*View {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl <= 0 {
		return nil
	}

	var removed []*View
	now := s.now()

	// От самых старых к новым
	for elem := s.evictList.Back(); elem != nil; {
		entry := elem.Value.(*storeEntry)
		if now.Sub(entry.lastUsed) <= s.ttl {
			// Все более новые записи тоже живы
			break
		}
		prev := elem.Prev()
		removed = append(removed, s.removeElement(elem))
		elem = prev
	}
	return removed
}

// all возвращает все представления, от новых к старым
func (s *store) all() []*View {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]*View, 0, len(s.items))
	for elem := s.evictList.Front(); elem != nil; elem = elem.Next() {
		views = append(views, elem.Value.(*storeEntry).view)
	}
	return views
}

// drain удаляет и возвращает все представления
func (s *store) drain() []*View {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]*View, 0, len(s.items))
	for elem := s.evictList.Front(); elem != nil; elem = elem.Next() {
		views = append(views, elem.Value.(*storeEntry).view)
	}
	s.items = make(map[string]*list.Element)
	s.evictList.Init()
	return views
}

// size количество открытых представлений
func (s *store) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// stats статистика обращений
func (s *store) stats() (hits, misses uint64, hitRate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hits = s.hits
	misses = s.misses
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

// removeOldest удаляет самую старую запись
func (s *store) removeOldest() *View {
	elem := s.evictList.Back()
	if elem == nil {
		return nil
	}
	return s.removeElement(elem)
}

// removeElement удаляет элемент
func (s *store) removeElement(elem *list.Element) *View {
	entry := elem.Value.(*storeEntry)
	delete(s.items, entry.id)
	s.evictList.Remove(elem)
	return entry.view
}
