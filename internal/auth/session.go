package auth

import (
	"context"
	"sync"

	"github.com/xtrntr/factoring/internal/apperr"
)

// Session holds the signed-in principal of an embedded client and notifies
// subscribers when it changes. It satisfies PrincipalSource.
type Session struct {
	mu        sync.RWMutex
	tokens    *TokenService
	token     string
	principal *Principal
	nextID    int
	listeners map[int]func(*Principal)
}

// NewSession creates a signed-out session verifying tokens with tokens.
func NewSession(tokens *TokenService) *Session {
	return &Session{tokens: tokens, listeners: make(map[int]func(*Principal))}
}

// SignIn verifies token and makes its principal current.
func (s *Session) SignIn(token string) (Principal, error) {
	p, err := s.tokens.Parse(token)
	if err != nil {
		return Principal{}, err
	}

	s.mu.Lock()
	s.token = token
	s.principal = &p
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notify(listeners, &p)
	return p, nil
}

// SignOut clears the current principal.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.token = ""
	s.principal = nil
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notify(listeners, nil)
}

// Token returns the token of the current principal, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// CurrentPrincipal returns the signed-in principal, or an Unauthenticated
// error when signed out.
func (s *Session) CurrentPrincipal(ctx context.Context) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return Principal{}, apperr.New(apperr.KindUnauthenticated, "not signed in")
	}
	return *s.principal, nil
}

// OnPrincipalChanged registers fn to run after every sign-in and sign-out.
// fn receives nil on sign-out. The returned func unregisters it.
func (s *Session) OnPrincipalChanged(fn func(*Principal)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) snapshotListeners() []func(*Principal) {
	fns := make([]func(*Principal), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(listeners []func(*Principal), p *Principal) {
	for _, fn := range listeners {
		var arg *Principal
		if p != nil {
			cp := *p
			arg = &cp
		}
		fn(arg)
	}
}
