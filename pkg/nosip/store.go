package nosip

import (
	"sync"
	"time"

	pkg_errors "nosip-bridge/pkg/errors"

	"nosip-bridge/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// destroyGrace is how long a destroyed session is kept around (in the
// destroyed list) before the reaper frees its resources, so that any
// in-flight RTP/RTCP packet or host callback already holding the
// session can observe the destruction first. Lookups by handle fail as
// soon as the session is destroyed (§4.7).
const destroyGrace = 5 * time.Second

// destroyedEntry pairs a session with the time it was marked destroyed.
type destroyedEntry struct {
	session   *Session
	destroyed time.Time
}

// Store is the two-phase session registry: live sessions are kept in a
// sync.Map keyed by handle for lock-free lookup from the request
// handler and ingress shims; destroyed sessions move to a
// mutex-guarded slice until the reaper sweeps them after destroyGrace.
//
// Grounded on the teacher's activeCalls sync.Map in pkg/sip/handler.go,
// generalized with the explicit destroyed-list staging the spec
// requires instead of immediate deletion.
type Store struct {
	live sync.Map // handle string -> *Session

	destroyedMu sync.Mutex
	destroyed   []destroyedEntry

	logger *logrus.Logger
}

// NewStore creates an empty session store.
func NewStore(logger *logrus.Logger) *Store {
	return &Store{logger: logger}
}

// Create registers a new session under handle. Returns an error if the
// handle is already in use by a live session.
func (st *Store) Create(handle string) (*Session, error) {
	s := &Session{Handle: handle}
	if _, loaded := st.live.LoadOrStore(handle, s); loaded {
		return nil, pkg_errors.New("handle already in use").
			WithCode("SESSION_EXISTS").
			WithField("handle", handle)
	}
	if metrics.IsMetricsEnabled() {
		metrics.SessionsActive.Inc()
		metrics.SessionsCreated.Inc()
	}
	return s, nil
}

// Get looks up a live session by handle.
func (st *Store) Get(handle string) (*Session, bool) {
	v, ok := st.live.Load(handle)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Destroy moves a live session to the destroyed list. Idempotent: a
// session already destroyed is left untouched and this returns false.
func (st *Store) Destroy(handle string) bool {
	v, ok := st.live.Load(handle)
	if !ok {
		return false
	}
	s := v.(*Session)
	if !s.MarkDestroyed() {
		return false
	}

	st.live.Delete(handle)
	if metrics.IsMetricsEnabled() {
		metrics.SessionsActive.Dec()
	}

	st.destroyedMu.Lock()
	st.destroyed = append(st.destroyed, destroyedEntry{session: s, destroyed: time.Now()})
	st.destroyedMu.Unlock()

	st.logger.WithField("handle", handle).Debug("session moved to destroyed list")
	return true
}

// Sweep frees every destroyed session older than destroyGrace, calling
// cleanup for each before dropping the reference. Returns the number
// of sessions freed.
func (st *Store) Sweep(cleanup func(*Session)) int {
	now := time.Now()

	st.destroyedMu.Lock()
	var remaining []destroyedEntry
	var ripe []destroyedEntry
	for _, e := range st.destroyed {
		if now.Sub(e.destroyed) >= destroyGrace {
			ripe = append(ripe, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	st.destroyed = remaining
	st.destroyedMu.Unlock()

	for _, e := range ripe {
		cleanup(e.session)
		if metrics.IsMetricsEnabled() {
			metrics.SessionsDestroyed.Inc()
		}
	}
	return len(ripe)
}

// Range iterates every live session. f returning false stops iteration
// early.
func (st *Store) Range(f func(*Session) bool) {
	st.live.Range(func(_, v interface{}) bool {
		return f(v.(*Session))
	})
}

// Len returns the count of live sessions. It is O(n) like sync.Map's
// own Range, intended for diagnostics rather than a hot path.
func (st *Store) Len() int {
	n := 0
	st.live.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
