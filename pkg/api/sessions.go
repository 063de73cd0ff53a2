package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sigweihq/dotclaim/pkg/chains/evm"
	"github.com/sigweihq/dotclaim/pkg/claim"
)

var errSessionNotFound = errors.New("session not found")

type session struct {
	id           string
	wallet       *evm.Wallet
	orchestrator *claim.Orchestrator

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *session) close() {
	s.orchestrator.Close()
	s.wallet.Close()
}

// sessionStore owns one wallet and orchestrator per session id
type sessionStore struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore(opts Options, logger *slog.Logger) *sessionStore {
	return &sessionStore{
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// create starts a session, adopting an account the shared provider already authorized
func (st *sessionStore) create(ctx context.Context) (*session, error) {
	wallet, err := evm.NewWallet(st.opts.Provider, st.opts.Scheme, st.logger)
	if err != nil {
		return nil, err
	}
	wallet.Resume(ctx)
	orchestrator, err := claim.New(wallet, st.opts.Ledger, st.logger)
	if err != nil {
		wallet.Close()
		return nil, err
	}

	sess := &session{
		id:           uuid.NewString(),
		wallet:       wallet,
		orchestrator: orchestrator,
		lastSeen:     st.now(),
	}

	st.mu.Lock()
	st.sessions[sess.id] = sess
	st.mu.Unlock()

	st.logger.Info("session created", "session", sess.id)
	return sess, nil
}

func (st *sessionStore) get(id string) (*session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errSessionNotFound
	}

	st.mu.RLock()
	sess, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, errSessionNotFound
	}

	sess.touch(st.now())
	return sess, nil
}

func (st *sessionStore) remove(id string) bool {
	st.mu.Lock()
	sess, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if ok {
		sess.close()
		st.logger.Info("session closed", "session", id)
	}
	return ok
}

func (st *sessionStore) len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// expire closes sessions idle longer than the timeout; busy sessions are kept
func (st *sessionStore) expire(now time.Time) int {
	cutoff := now.Add(-st.opts.IdleTimeout)

	var expired []*session
	st.mu.Lock()
	for id, sess := range st.sessions {
		if sess.idleSince().Before(cutoff) && !sess.orchestrator.Snapshot().Busy {
			expired = append(expired, sess)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, sess := range expired {
		sess.close()
		st.logger.Debug("session expired", "session", sess.id)
	}
	return len(expired)
}

func (st *sessionStore) closeAll() {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*session)
	st.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}
