package realtime

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const shardCount = 32

// Conn: одно WebSocket-подключение пользователя.
type Conn interface {
	ID() uuid.UUID
	UserID() uuid.UUID
	// Send не блокируется: false, если буфер переполнен или соединение закрыто.
	Send(frame []byte) bool
	Close()
}

type connState struct {
	conn     Conn
	lastSeen time.Time
}

type userEntry struct {
	conns    map[uuid.UUID]*connState
	lastSeen time.Time
}

type registryShard struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*userEntry
}

// Registry: user_id -> подключения, разбит на шарды по хэшу пользователя.
type Registry struct {
	shards [shardCount]*registryShard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{users: make(map[uuid.UUID]*userEntry)}
	}
	return r
}

func (r *Registry) shard(userID uuid.UUID) *registryShard {
	h := fnv.New32a()
	h.Write(userID[:])
	return r.shards[h.Sum32()%shardCount]
}

// Add возвращает true, если это первое подключение пользователя.
func (r *Registry) Add(conn Conn, now time.Time) bool {
	s := r.shard(conn.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.users[conn.UserID()]
	if !ok {
		entry = &userEntry{conns: make(map[uuid.UUID]*connState)}
		s.users[conn.UserID()] = entry
	}
	first := len(entry.conns) == 0
	entry.conns[conn.ID()] = &connState{conn: conn, lastSeen: now}
	entry.lastSeen = now
	return first
}

// Remove: removed: подключение было в реестре, last, оно было последним
// у пользователя. Повторный Remove того же подключения ничего не делает.
func (r *Registry) Remove(conn Conn) (removed, last bool) {
	s := r.shard(conn.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.users[conn.UserID()]
	if !ok {
		return false, false
	}
	if _, ok := entry.conns[conn.ID()]; !ok {
		return false, false
	}
	delete(entry.conns, conn.ID())
	if len(entry.conns) == 0 {
		delete(s.users, conn.UserID())
		return true, true
	}
	return true, false
}

// Touch обновляет last_seen подключения и пользователя.
func (r *Registry) Touch(conn Conn, now time.Time) bool {
	s := r.shard(conn.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.users[conn.UserID()]
	if !ok {
		return false
	}
	state, ok := entry.conns[conn.ID()]
	if !ok {
		return false
	}
	state.lastSeen = now
	entry.lastSeen = now
	return true
}

func (r *Registry) Conns(userID uuid.UUID) []Conn {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.users[userID]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(entry.conns))
	for _, st := range entry.conns {
		conns = append(conns, st.conn)
	}
	return conns
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

// Expired: подключения, от которых не было heartbeat с cutoff.
func (r *Registry) Expired(cutoff time.Time) []Conn {
	var expired []Conn
	for _, s := range r.shards {
		s.mu.RLock()
		for _, entry := range s.users {
			for _, st := range entry.conns {
				if st.lastSeen.Before(cutoff) {
					expired = append(expired, st.conn)
				}
			}
		}
		s.mu.RUnlock()
	}
	return expired
}

func (r *Registry) All() []Conn {
	var all []Conn
	for _, s := range r.shards {
		s.mu.RLock()
		for _, entry := range s.users {
			for _, st := range entry.conns {
				all = append(all, st.conn)
			}
		}
		s.mu.RUnlock()
	}
	return all
}

func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, entry := range s.users {
			n += len(entry.conns)
		}
		s.mu.RUnlock()
	}
	return n
}
