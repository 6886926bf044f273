package p2p

import "sync"

type streamRequest struct {
	stream LocalStream
	result *Future[struct{}]
}

// streamQueue holds publish or unpublish requests waiting for the session to
// become ready for them.
type streamQueue struct {
	mu    sync.Mutex
	items []streamRequest
}

func (q *streamQueue) push(r streamRequest) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// take removes and returns everything queued so far. Requests pushed while
// the caller processes the batch are left for the next drain.
func (q *streamQueue) take() []streamRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *streamQueue) contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.items {
		if r.stream.ID() == id {
			return true
		}
	}
	return false
}

func (q *streamQueue) streams() []LocalStream {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]LocalStream, 0, len(q.items))
	for _, r := range q.items {
		out = append(out, r.stream)
	}
	return out
}

func (q *streamQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type messageRequest struct {
	text   string
	result *Future[struct{}]
}

type messageQueue struct {
	mu    sync.Mutex
	items []messageRequest
}

func (q *messageQueue) push(r messageRequest) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

func (q *messageQueue) take() []messageRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// streamSet is the set of local streams currently published to the remote.
type streamSet struct {
	mu      sync.Mutex
	streams map[string]LocalStream
}

func newStreamSet() *streamSet {
	return &streamSet{streams: make(map[string]LocalStream)}
}

func (s *streamSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.streams[id]
	return ok
}

func (s *streamSet) add(stream LocalStream) {
	s.mu.Lock()
	s.streams[stream.ID()] = stream
	s.mu.Unlock()
}

func (s *streamSet) remove(id string) {
	s.mu.Lock()
	delete(s.streams, id)
	s.mu.Unlock()
}

func (s *streamSet) list() []LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LocalStream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st)
	}
	return out
}

func (s *streamSet) clear() {
	s.mu.Lock()
	clear(s.streams)
	s.mu.Unlock()
}
