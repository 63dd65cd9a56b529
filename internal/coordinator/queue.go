package coordinator

// Entry is one waiting connection with the identity it signed in as.
type Entry struct {
	Conn     ConnID
	Identity Identity
}

// Queue is the FIFO of anonymous players waiting for a partner.
type Queue struct {
	waiting []Entry
}

func NewQueue() *Queue { return &Queue{} }

// EnqueueOrMatch pops the head and returns it as the partner, or appends conn when nobody else
// is waiting. A connection already queued is not added twice.
func (q *Queue) EnqueueOrMatch(conn ConnID, who Identity) (Entry, bool) {
	for i, e := range q.waiting {
		if e.Conn == conn {
			q.waiting[i].Identity = who
			return Entry{}, false
		}
	}
	if len(q.waiting) == 0 {
		q.waiting = append(q.waiting, Entry{Conn: conn, Identity: who})
		return Entry{}, false
	}
	head := q.waiting[0]
	q.waiting = q.waiting[1:]
	return head, true
}

// Remove drops conn from the queue; no-op if absent.
func (q *Queue) Remove(conn ConnID) bool {
	for i, e := range q.waiting {
		if e.Conn == conn {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) Contains(conn ConnID) bool {
	for _, e := range q.waiting {
		if e.Conn == conn { return true }
	}
	return false
}

func (q *Queue) Len() int { return len(q.waiting) }
