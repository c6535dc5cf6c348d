package session

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const shardCount = 16

type memoryShard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// MemoryStore keeps sessions for the life of the process.
type MemoryStore struct {
	shards   [shardCount]memoryShard
	maxTurns int
	idleTTL  time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates a store trimming transcripts to maxTurns. A positive
// idleTTL starts a sweeper that forgets sessions idle for longer.
func NewMemoryStore(maxTurns int, idleTTL time.Duration) *MemoryStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	s := &MemoryStore{
		maxTurns: maxTurns,
		idleTTL:  idleTTL,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string]*Session)
	}
	if idleTTL > 0 {
		go s.sweepLoop(sweepInterval(idleTTL))
	} else {
		close(s.done)
	}
	return s
}

func sweepInterval(ttl time.Duration) time.Duration {
	iv := ttl / 4
	if iv < time.Second {
		iv = time.Second
	}
	if iv > 5*time.Minute {
		iv = 5 * time.Minute
	}
	return iv
}

func (s *MemoryStore) shard(id string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.shards[h.Sum32()%shardCount]
}

// GetOrCreate returns a copy of the session, creating an empty one if needed.
func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if !ok {
		now := s.now()
		sess = &Session{ID: id, Turns: []Turn{}, CreatedAt: now, LastActiveAt: now}
		sh.sessions[id] = sess
	}
	return cloneSession(sess), nil
}

// AppendTurn appends turn and trims the oldest turns.
func (s *MemoryStore) AppendTurn(_ context.Context, id string, turn Turn) error {
	now := s.now()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if !ok {
		sess = &Session{ID: id, CreatedAt: now}
		sh.sessions[id] = sess
	}
	sess.Turns = trimTurns(append(sess.Turns, turn), s.maxTurns)
	sess.LastActiveAt = now
	return nil
}

// Delete forgets the session.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	sh := s.shard(id)
	sh.mu.Lock()
	delete(sh.sessions, id)
	sh.mu.Unlock()
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// Sweep removes sessions idle since before now minus the TTL and returns how
// many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-s.idleTTL)
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if sess.LastActiveAt.Before(cutoff) {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				slog.Info("Expired idle sessions", "count", n)
			}
		}
	}
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func cloneSession(s *Session) *Session {
	out := *s
	out.Turns = make([]Turn, len(s.Turns))
	copy(out.Turns, s.Turns)
	return &out
}
