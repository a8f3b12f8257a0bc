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
	"errors"
	"io"
	"net"

	"github.com/xgfone/go-btmeta/metainfo"
	pp "github.com/xgfone/go-btmeta/peerprotocol"
	"go.uber.org/zap"
)

// Seeder serves the info dictionary of one torrent to one remote peer.
//
// A Seeder never volunteers anything: it announces the metadata size in
// its extended handshake, then answers piece requests until the peer
// goes away. Invalid requests are dropped rather than failing the
// session, so one malformed message cannot take the serving down.
type Seeder struct {
	NoopHandler

	conf Config
	conn *pp.PeerConn

	infohash     metainfo.Hash
	infoBytes    []byte
	pieces       int
	utmetadataID uint8
}

// NewSeeder wraps the accepted connection conn as a seeding session
// serving the given info dictionary.
//
// It performs the protocol handshake and waits for the extended
// handshake of the peer, and returns an error if the peer does not
// support the extension protocol or "ut_metadata".
func NewSeeder(conn net.Conn, info metainfo.Info, conf ...Config) (*Seeder, error) {
	infoBytes, err := metainfo.EncodeInfo(info)
	if err != nil {
		return nil, err
	}
	return NewSeederFromBytes(conn, infoBytes, conf...)
}

// NewSeederFromBytes is the same as NewSeeder, but serves an
// already-bencoded info dictionary, such as one loaded from a cache.
func NewSeederFromBytes(conn net.Conn, infoBytes []byte, conf ...Config) (*Seeder, error) {
	var c Config
	c.set(conf...)

	pc := pp.NewPeerConn(conn, c.ID, metainfo.NewHashFromBytes(infoBytes))
	pc.Timeout = c.Timeout
	pc.MaxLength = c.MaxLength
	pc.ExtBits.Set(pp.ExtensionBitExtended)

	s := &Seeder{
		conf:      c,
		conn:      pc,
		infohash:  pc.InfoHash,
		infoBytes: infoBytes,
		pieces:    countPieces(len(infoBytes)),
	}
	if err := s.negotiate(); err != nil {
		return nil, err
	}
	return s, nil
}

// InfoHash returns the infohash of the served info dictionary.
func (s *Seeder) InfoHash() metainfo.Hash { return s.infohash }

// Close closes the connection to the remote peer.
func (s *Seeder) Close() error { return s.conn.Close() }

func (s *Seeder) negotiate() (err error) {
	if err = s.conn.Handshake(); err != nil {
		return
	} else if !s.conn.PeerExtBits.IsSupportExtended() {
		return ErrNotSupportExtended
	}

	ehmsg, err := readExtHandshake(s.conn)
	if err != nil {
		return
	}
	if s.utmetadataID = ehmsg.M[pp.ExtendedMessageNameMetadata]; s.utmetadataID == 0 {
		return ErrNotSupportMetadata
	}
	return
}

// Seed announces the metadata size, then answers the piece requests of
// the peer until the connection is closed.
//
// It returns nil when the peer hangs up, and the transport error when
// the connection fails otherwise. Invalid messages are logged and
// skipped.
func (s *Seeder) Seed() (err error) {
	err = s.conn.SendExtHandshakeMsg(pp.ExtendedHandshakeMsg{
		M:            map[string]uint8{pp.ExtendedMessageNameMetadata: localMetadataID},
		MetadataSize: len(s.infoBytes),
	})
	if err != nil {
		return
	}

	for {
		msg, err := s.conn.ReadMsg()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if err = HandleMessage(msg, s); err != nil {
			s.conf.Logger.Debug("drop the invalid peer message",
				zap.Stringer("infohash", s.infohash), zap.Error(err))
		}
	}
}

// OnMetadataRequest implements the interface Handler#OnMetadataRequest,
// which answers the request with a data message carrying the requested
// piece and the total size. A request for a piece at or beyond the
// piece count is dropped silently.
func (s *Seeder) OnMetadataRequest(um pp.UtMetadataExtendedMsg) (err error) {
	if um.Piece < 0 || um.Piece >= s.pieces {
		s.conf.Logger.Debug("drop the out-of-range piece request",
			zap.Stringer("infohash", s.infohash), zap.Int("piece", um.Piece))
		return
	}

	start, end := pieceBounds(len(s.infoBytes), um.Piece)
	payload, err := pp.UtMetadataExtendedMsg{
		MsgType:   pp.UtMetadataExtendedMsgTypeData,
		Piece:     um.Piece,
		TotalSize: len(s.infoBytes),
		Data:      s.infoBytes[start:end],
	}.EncodeToBytes()
	if err != nil {
		return
	}
	return s.conn.SendExtMsg(s.utmetadataID, payload)
}
