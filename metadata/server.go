// Copyright 2024 xgfone
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metadata

import (
	"context"
	"errors"
	"net"

	"github.com/xgfone/go-btmeta/metainfo"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Server accepts connections and serves the info dictionary of one
// torrent to each of them, one seeding session per connection.
type Server struct {
	ln        net.Listener
	conf      Config
	sem       *semaphore.Weighted
	infohash  metainfo.Hash
	infoBytes []byte
}

// NewServer returns a new Server serving the info dictionary info on
// the listener ln.
func NewServer(ln net.Listener, info metainfo.Info, conf ...Config) (*Server, error) {
	infoBytes, err := metainfo.EncodeInfo(info)
	if err != nil {
		return nil, err
	}

	var c Config
	c.set(conf...)
	return &Server{
		ln:        ln,
		conf:      c,
		sem:       semaphore.NewWeighted(c.MaxSessions),
		infohash:  metainfo.NewHashFromBytes(infoBytes),
		infoBytes: infoBytes,
	}, nil
}

// NewServerByListen is the same as NewServer, but listens on the
// address addr on the network first.
func NewServerByListen(network, addr string, info metainfo.Info, conf ...Config) (*Server, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return NewServer(ln, info, conf...)
}

// InfoHash returns the infohash of the served info dictionary.
func (s *Server) InfoHash() metainfo.Hash { return s.infohash }

// Addr returns the listener address of the server.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close closes the listener, which makes Run return.
func (s *Server) Close() error { return s.ln.Close() }

// Run accepts the connections and serves each of them on a new
// goroutine until the listener is closed. The number of concurrent
// sessions is bounded by MaxSessions; excess connections wait.
func (s *Server) Run() {
	logger := s.conf.Logger
	logger.Info("start the metadata server",
		zap.Stringer("infohash", s.infohash),
		zap.Stringer("addr", s.ln.Addr()))

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Info("stop the metadata server",
					zap.Stringer("infohash", s.infohash))
				return
			}
			logger.Error("fail to accept the connection", zap.Error(err))
			continue
		}

		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			conn.Close()
			return
		}
		go func() {
			defer s.sem.Release(1)
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	logger := s.conf.Logger.With(
		zap.Stringer("infohash", s.infohash),
		zap.Stringer("peeraddr", conn.RemoteAddr()))

	seeder, err := NewSeederFromBytes(conn, s.infoBytes, s.conf)
	if err != nil {
		logger.Debug("fail to negotiate the seeding session", zap.Error(err))
		return
	}
	if err := seeder.Seed(); err != nil {
		logger.Debug("the seeding session is broken", zap.Error(err))
	}
}
