package app

import (
	"context"
	"strings"
	"sync"

	"quiz-match-service/internal/domain"
)

// presence tracks which match each live connection is attached to. A connection
// belongs to at most one match.
type presence struct {
	mu    sync.Mutex
	conns map[string]string
}

func newPresence() *presence {
	return &presence{conns: make(map[string]string)}
}

// bind attaches connID to code and returns the match it was attached to before.
func (p *presence) bind(connID, code string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.conns[connID]
	p.conns[connID] = code
	return prev
}

func (p *presence) unbind(connID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	code, ok := p.conns[connID]
	delete(p.conns, connID)
	return code, ok
}

func (p *presence) lookup(connID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	code, ok := p.conns[connID]
	return code, ok
}

// JoinRequest is an "I am present" signal from a connection.
type JoinRequest struct {
	ConnID      string
	MatchCode   string
	HostID      string // authenticated host identity, empty for players
	PlayerToken string // reconnect token issued on a previous join
	DisplayName string
}

// JoinResult tells the connection who it is inside the match.
type JoinResult struct {
	MatchCode   string
	Title       string
	Role        domain.Role
	PlayerToken string
	Reattached  bool
}

// Join attaches the connection to a match: the host reconnects, a known player
// reattaches by token, anyone else joins as a new player.
func (s *MatchService) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	match, res, err := s.attach(req)
	if err != nil {
		return JoinResult{}, err
	}
	s.logger.DebugContext(ctx, "presence", "match", match.Code(), "conn", req.ConnID, "role", res.Role, "reattached", res.Reattached)
	return res, nil
}

// EnterRoundView attaches like Join and then sends the match details and any
// open question to the connection.
func (s *MatchService) EnterRoundView(ctx context.Context, req JoinRequest) (JoinResult, error) {
	match, res, err := s.attach(req)
	if err != nil {
		return JoinResult{}, err
	}
	identity := res.PlayerToken
	if res.Role == domain.RoleHost {
		identity = match.HostID()
	}
	match.SendRoundView(req.ConnID, identity)
	s.logger.DebugContext(ctx, "round view entered", "match", match.Code(), "conn", req.ConnID, "role", res.Role)
	return res, nil
}

// Disconnect detaches a closed connection from its match, if any.
func (s *MatchService) Disconnect(connID string) {
	code, ok := s.presence.unbind(connID)
	if !ok {
		return
	}
	if match, ok := s.registry.Find(code); ok {
		match.Detach(connID)
	}
}

func (s *MatchService) attach(req JoinRequest) (*Match, JoinResult, error) {
	code := NormalizeCode(req.MatchCode)
	match, ok := s.registry.Find(code)
	if !ok {
		return nil, JoinResult{}, domain.ErrMatchNotFound
	}
	res := JoinResult{MatchCode: code, Title: match.Title()}

	if req.HostID != "" && req.HostID == match.HostID() {
		if err := match.AttachHost(req.ConnID); err != nil {
			return nil, JoinResult{}, err
		}
		res.Role = domain.RoleHost
		res.Reattached = true
		s.bindConn(req.ConnID, code)
		return match, res, nil
	}

	if req.PlayerToken != "" && match.ReattachPlayer(req.PlayerToken, req.ConnID) {
		res.Role = domain.RolePlayer
		res.PlayerToken = req.PlayerToken
		res.Reattached = true
		s.bindConn(req.ConnID, code)
		return match, res, nil
	}

	if identity, role, ok := match.IdentityOf(req.ConnID); ok {
		res.Role = role
		if role == domain.RolePlayer {
			res.PlayerToken = identity
		}
		return match, res, nil
	}

	token := s.tokens()
	if _, err := match.AddPlayer(token, req.DisplayName, req.ConnID); err != nil {
		return nil, JoinResult{}, err
	}
	res.Role = domain.RolePlayer
	res.PlayerToken = token
	s.bindConn(req.ConnID, code)
	return match, res, nil
}

// bindConn records the connection's match, leaving any match it was attached to before.
func (s *MatchService) bindConn(connID, code string) {
	prev := s.presence.bind(connID, code)
	if prev == "" || prev == code {
		return
	}
	if old, ok := s.registry.Find(prev); ok {
		old.Detach(connID)
	}
}

// NormalizeCode canonicalizes user-typed match codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
