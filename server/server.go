// Package server exposes a Bank over the line-oriented prompt protocol, one
// goroutine per connection.
package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bankline/recordbank/bank"
	"github.com/bankline/recordbank/session"
)

type Server struct {
	bank     *bank.Bank
	sessions *session.Service
	log      *zap.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func New(b *bank.Bank, sessions *session.Service, log *zap.Logger) *Server {
	return &Server{bank: b, sessions: sessions, log: log, conns: make(map[net.Conn]struct{})}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. Leftover session files
// from a previous run are swept first. On shutdown the listener and every open
// connection are closed and all sessions held by this process are released.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if cleared, err := s.sessions.Sweep(); err != nil {
		s.log.Warn("session sweep failed", zap.Error(err))
	} else {
		for _, id := range cleared {
			s.log.Info("cleared stale session", zap.Stringer("identity", id))
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		ln.Close()
		s.closeConns()
		return nil
	})
	g.Go(func() error {
		for {
			nc, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			s.track(nc)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.untrack(nc)
				s.Handle(nc)
			}()
		}
	})

	err := g.Wait()
	s.wg.Wait()
	s.sessions.ReleaseAll()
	return err
}

func (s *Server) track(nc net.Conn) {
	s.mu.Lock()
	s.conns[nc] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	delete(s.conns, nc)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for nc := range s.conns {
		nc.Close()
	}
}

// Handle runs one client session to completion and closes nc.
func (s *Server) Handle(nc net.Conn) {
	defer nc.Close()
	id := uuid.NewString()
	c := newConn(nc, id, s.log.With(zap.String("conn", id)))
	c.log.Info("client connected", zap.String("remote", nc.RemoteAddr().String()))

	err := s.mainMenu(c)
	switch {
	case err == nil:
		c.log.Info("client exited")
	case errors.Is(err, ErrDisconnected):
		c.log.Info("client disconnected")
	default:
		c.log.Error("session ended with error", zap.Error(err))
	}
}
