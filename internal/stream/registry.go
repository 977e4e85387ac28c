package stream

import (
	"sort"
	"time"

	"github.com/yegors/RTLSDR-Airband/internal/transport"
)

// Session is one connected listener and its framing state
type Session struct {
	ID          uint64
	RemoteAddr  string
	ConnectedAt time.Time

	conn       transport.Conn
	headerSent bool

	// Counters
	chunksSent  uint64
	bytesSent   uint64
	wouldBlocks uint64
}

// SessionInfo is a read-only view of a session for monitoring
type SessionInfo struct {
	ID          uint64    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Duration    string    `json:"duration"`
	HeaderSent  bool      `json:"header_sent"`
	ChunksSent  uint64    `json:"chunks_sent"`
	BytesSent   uint64    `json:"bytes_sent"`
	WouldBlocks uint64    `json:"would_blocks"`
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		RemoteAddr:  s.RemoteAddr,
		ConnectedAt: s.ConnectedAt,
		Duration:    time.Since(s.ConnectedAt).Round(time.Second).String(),
		HeaderSent:  s.headerSent,
		ChunksSent:  s.chunksSent,
		BytesSent:   s.bytesSent,
		WouldBlocks: s.wouldBlocks,
	}
}

// Registry is the set of connected sessions. It owns every connection it
// holds and closes each exactly once, on Remove or CloseAll.
type Registry struct {
	sessions map[uint64]*Session
	byConn   map[transport.Conn]uint64
	nextID   uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint64]*Session),
		byConn:   make(map[transport.Conn]uint64),
	}
}

// Add registers conn as a new session. Adding a connection twice returns the
// existing session.
func (r *Registry) Add(conn transport.Conn, now time.Time) *Session {
	if id, ok := r.byConn[conn]; ok {
		return r.sessions[id]
	}

	r.nextID++
	s := &Session{
		ID:          r.nextID,
		RemoteAddr:  conn.RemoteAddr(),
		ConnectedAt: now,
		conn:        conn,
	}
	r.sessions[s.ID] = s
	r.byConn[conn] = s.ID
	return s
}

// Remove closes the session's connection and drops it. It reports false when
// the session is not registered.
func (r *Registry) Remove(id uint64) (bool, error) {
	s, ok := r.sessions[id]
	if !ok {
		return false, nil
	}

	delete(r.sessions, id)
	delete(r.byConn, s.conn)
	return true, s.conn.Close()
}

// Get returns a registered session
func (r *Registry) Get(id uint64) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Each calls fn once for every session. fn may remove the session it was
// given.
func (r *Registry) Each(fn func(*Session)) {
	for _, s := range r.sessions {
		fn(s)
	}
}

// CloseAll closes and removes every session, calling fn for each before its
// connection is closed. It returns the number of sessions closed.
func (r *Registry) CloseAll(fn func(*Session)) int {
	n := 0
	for id, s := range r.sessions {
		if fn != nil {
			fn(s)
		}
		r.Remove(id)
		n++
	}
	return n
}

// Snapshot returns session infos ordered by id
func (r *Registry) Snapshot() []SessionInfo {
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
