package coordinator

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrDuplicateProblem is returned when a problem id is already in use.
var ErrDuplicateProblem = errors.New("duplicate problem id")

// PendingRequest is a SolveRequest that has not been divided yet.
type PendingRequest struct {
	Received    time.Time
	ProblemType string
	Data        []byte
	Timeout     time.Duration
	ClaimedAt   time.Time // last claim or renewal
	ID          uint64
	ClaimedBy   uint64 // TaskManager dividing it; 0 when unclaimed
}

// leaseExpired reports whether a claim taken at claimedAt has run out. A zero
// lease never expires.
func leaseExpired(claimedAt, now time.Time, lease time.Duration) bool {
	return lease > 0 && now.Sub(claimedAt) > lease
}

// RequestQueue holds SolveRequests waiting to be divided and mints problem ids.
//
// A request handed to a TaskManager in a DivideProblem is claimed by that node
// and is not offered to anyone else while the claim's lease runs. The claim is
// released if the node is evicted, lapses when the lease runs out without a
// renewal, and the request is dropped once its PartialProblems arrive.
type RequestQueue struct {
	pending map[uint64]*PendingRequest
	now     func() time.Time
	lease   time.Duration
	mu      sync.Mutex
	idMu    sync.Mutex
	nextID  uint64
}

// NewRequestQueue creates an empty queue whose first problem id is lastID+1.
// Passing the highest id already persisted keeps ids unique across restarts.
func NewRequestQueue(lastID uint64, now func() time.Time) *RequestQueue {
	if now == nil {
		now = time.Now
	}
	return &RequestQueue{
		pending: make(map[uint64]*PendingRequest),
		now:     now,
		nextID:  lastID,
	}
}

// SetLease sets how long a claim holds without renewal. Zero, the default,
// keeps claims until they are released.
func (q *RequestQueue) SetLease(d time.Duration) {
	q.mu.Lock()
	q.lease = d
	q.mu.Unlock()
}

func (q *RequestQueue) mintID() (uint64, error) {
	q.idMu.Lock()
	defer q.idMu.Unlock()

	if q.nextID == math.MaxUint64 {
		return 0, ErrIDsExhausted
	}
	q.nextID++
	return q.nextID, nil
}

// Enqueue stores a new request and returns its problem id.
func (q *RequestQueue) Enqueue(problemType string, timeout time.Duration, data []byte) (uint64, error) {
	id, err := q.mintID()
	if err != nil {
		return 0, err
	}

	req := &PendingRequest{
		ID:          id,
		ProblemType: problemType,
		Timeout:     timeout,
		Data:        append([]byte(nil), data...),
		Received:    q.now(),
	}
	if err := q.insert(req); err != nil {
		return 0, err
	}
	return id, nil
}

func (q *RequestQueue) insert(req *PendingRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[req.ID]; exists {
		return ErrDuplicateProblem
	}
	q.pending[req.ID] = req
	return nil
}

// Claim hands the oldest unclaimed request accepted by match to nodeID. A
// request whose claim lease ran out counts as unclaimed.
func (q *RequestQueue) Claim(nodeID uint64, match func(problemType string) bool) (PendingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var oldest *PendingRequest
	for _, req := range q.pending {
		held := req.ClaimedBy != 0 && !leaseExpired(req.ClaimedAt, now, q.lease)
		if held || !match(req.ProblemType) {
			continue
		}
		if oldest == nil || req.ID < oldest.ID {
			oldest = req
		}
	}
	if oldest == nil {
		return PendingRequest{}, false
	}

	oldest.ClaimedBy = nodeID
	oldest.ClaimedAt = now
	return *oldest, true
}

// Renew restarts the lease of every request claimed by nodeID and reports
// how many it touched.
func (q *RequestQueue) Renew(nodeID uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := 0
	for _, req := range q.pending {
		if req.ClaimedBy == nodeID {
			req.ClaimedAt = now
			n++
		}
	}
	return n
}

// Release returns every request claimed by nodeID to the unclaimed pool and
// reports the affected ids.
func (q *RequestQueue) Release(nodeID uint64) []uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	var released []uint64
	for id, req := range q.pending {
		if req.ClaimedBy == nodeID {
			req.ClaimedBy = 0
			released = append(released, id)
		}
	}
	return released
}

// Remove drops a request.
func (q *RequestQueue) Remove(problemID uint64) (PendingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.pending[problemID]
	if !ok {
		return PendingRequest{}, false
	}
	delete(q.pending, problemID)
	return *req, true
}

// Get returns a copy of a pending request.
func (q *RequestQueue) Get(problemID uint64) (PendingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.pending[problemID]
	if !ok {
		return PendingRequest{}, false
	}
	return *req, true
}

// Len returns the number of pending requests, claimed or not.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
