// Package identity holds the signed-in identity for the device and tells
// interested parties when it changes.
package identity

import (
	"sync"

	"example.com/learnsync/internal/domain"
)

var _ domain.IdentityProvider = (*Session)(nil)

// Session is the process-wide sign-in state. It is safe for concurrent use.
type Session struct {
	cfg Config

	mu      sync.RWMutex
	subject string
	token   string
	subs    map[int]chan string
	nextSub int
}

// NewSession constructs a signed-out Session. cfg verifies tokens passed to
// SetToken.
func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg, subs: make(map[int]chan string)}
}

// Current implements domain.IdentityProvider.
func (s *Session) Current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject, s.subject != ""
}

// Token returns the raw bearer token for the signed-in identity.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// SetToken verifies token and signs its subject in.
func (s *Session) SetToken(token string) (*Claims, error) {
	claims, err := ParseToken(token, s.cfg)
	if err != nil {
		return nil, err
	}
	s.Set(claims.Subject, token)
	return claims, nil
}

// Set signs subject in without verification. token may be empty.
func (s *Session) Set(subject, token string) {
	s.mu.Lock()
	changed := s.subject != subject
	s.subject = subject
	s.token = token
	if changed {
		s.notifyLocked(subject)
	}
	s.mu.Unlock()
}

// Clear signs out.
func (s *Session) Clear() {
	s.Set("", "")
}

// Subscribe returns a channel receiving the new identity ("" on sign-out)
// each time it changes. When the subscriber falls behind, the oldest pending
// change is dropped so the latest one is always delivered.
func (s *Session) Subscribe(buffer int) (<-chan string, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan string, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Session) notifyLocked(subject string) {
	for _, ch := range s.subs {
		for {
			select {
			case ch <- subject:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
