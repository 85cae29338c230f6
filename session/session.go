package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tools-aigc/toolflow/types"
)

// Session holds the state of one logical conversation. All mutation goes
// through its methods; history and permissions are never exposed as live
// references.
type Session struct {
	id        string
	createdAt time.Time

	mu           sync.RWMutex
	lastActivity time.Time
	messages     []types.Message
	allowed      map[string]struct{}
	metadata     map[string]any
	defaultDeny  bool
}

func newSession(id string, defaultDeny bool) *Session {
	if id == "" {
		id = "session-" + uuid.NewString()
	}
	now := time.Now()
	return &Session{
		id:           id,
		createdAt:    now,
		lastActivity: now,
		allowed:      make(map[string]struct{}),
		metadata:     make(map[string]any),
		defaultDeny:  defaultDeny,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the time of the most recent activity.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Touch records activity, pushing back idle expiry.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// AppendMessage adds a message to the history and records activity.
func (s *Session) AppendMessage(msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.messages = append(s.messages, msg)
	s.lastActivity = time.Now()
}

// Messages returns a snapshot of the history. Later mutation of the session
// does not alter the returned slice.
func (s *Session) Messages() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Message{}, s.messages...)
}

// ClearMessages empties the history and records activity.
func (s *Session) ClearMessages() {
	s.mu.Lock()
	s.messages = nil
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Allow permits a tool for this session.
func (s *Session) Allow(toolName string) {
	s.mu.Lock()
	s.allowed[toolName] = struct{}{}
	s.mu.Unlock()
}

// AllowMany permits several tools at once.
func (s *Session) AllowMany(toolNames []string) {
	s.mu.Lock()
	for _, name := range toolNames {
		s.allowed[name] = struct{}{}
	}
	s.mu.Unlock()
}

// Disallow removes a tool from the allow-list. Removing an absent tool is a
// no-op.
func (s *Session) Disallow(toolName string) {
	s.mu.Lock()
	delete(s.allowed, toolName)
	s.mu.Unlock()
}

// IsAllowed reports whether a tool may be invoked in this session.
//
// An empty allow-list follows the store's default policy: default-open
// (every tool permitted) unless the store was created with DefaultDeny.
func (s *Session) IsAllowed(toolName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.allowed) == 0 {
		return !s.defaultDeny
	}
	_, ok := s.allowed[toolName]
	return ok
}

// ResetPermissions empties the allow-list, restoring the default policy.
func (s *Session) ResetPermissions() {
	s.mu.Lock()
	s.allowed = make(map[string]struct{})
	s.mu.Unlock()
}

// AllowedTools returns the allow-list as a sorted slice.
func (s *Session) AllowedTools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make([]string, 0, len(s.allowed))
	for name := range s.allowed {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools
}

// SetMetadata attaches an arbitrary value to the session.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Metadata returns a copy of the session metadata.
func (s *Session) Metadata() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// Info is a serializable snapshot of session state for observability.
type Info struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	AllowedTools []string  `json:"allowed_tools"`
	MessageCount int       `json:"message_count"`
}

// Snapshot returns a point-in-time view of the session.
func (s *Session) Snapshot() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make([]string, 0, len(s.allowed))
	for name := range s.allowed {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return Info{
		SessionID:    s.id,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		AllowedTools: tools,
		MessageCount: len(s.messages),
	}
}
