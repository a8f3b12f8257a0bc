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
	"fmt"
	"net"

	"github.com/xgfone/go-btmeta/metainfo"
	pp "github.com/xgfone/go-btmeta/peerprotocol"
	"go.uber.org/zap"
)

// Fetcher fetches the info dictionary named by an infohash from one
// remote peer.
//
// A Fetcher drives a strictly sequential request loop: it requests the
// pieces one by one, appends each data piece to an accumulator, and
// verifies the complete dictionary against the infohash. Any answer
// that cannot belong to the announced dictionary fails the session
// immediately.
type Fetcher struct {
	NoopHandler

	conf Config
	conn *pp.PeerConn

	infohash     metainfo.Hash
	utmetadataID uint8
	metadataSize int

	acc       []byte
	info      *metainfo.Info
	infoBytes []byte
}

// NewFetcher connects to the peer at addr by TCP and negotiates the
// metadata exchange for the torrent named by infohash.
//
// It returns an error if the peer does not support the extension
// protocol, does not assign a message id to "ut_metadata", or does
// not announce the metadata size.
func NewFetcher(addr string, infohash metainfo.Hash, conf ...Config) (f *Fetcher, err error) {
	var c Config
	c.set(conf...)

	conn, err := pp.NewPeerConnByDial(addr, c.ID, infohash, c.Timeout)
	if err != nil {
		return nil, err
	}
	conn.MaxLength = c.MaxLength

	if f, err = NewFetcherFromConn(conn, infohash, c); err != nil {
		conn.Close()
	}
	return
}

// NewFetcherFromConn is the same as NewFetcher, but uses an existing
// connection instead of dialing a new one. It does not close conn
// on a negotiation failure.
func NewFetcherFromConn(conn net.Conn, infohash metainfo.Hash, conf ...Config) (*Fetcher, error) {
	var c Config
	c.set(conf...)

	pc, ok := conn.(*pp.PeerConn)
	if !ok {
		pc = pp.NewPeerConn(conn, c.ID, infohash)
		pc.Timeout = c.Timeout
		pc.MaxLength = c.MaxLength
	}
	pc.ExtBits.Set(pp.ExtensionBitExtended)

	f := &Fetcher{conf: c, conn: pc, infohash: infohash}
	if err := f.negotiate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Close closes the connection to the remote peer.
func (f *Fetcher) Close() error { return f.conn.Close() }

// PeerID returns the id of the remote peer, which is known after the
// handshake in the constructor.
func (f *Fetcher) PeerID() metainfo.Hash { return f.conn.PeerID }

// Info returns the fetched and verified info dictionary, which is
// only valid after Fetch has returned nil.
func (f *Fetcher) Info() metainfo.Info { return *f.info }

// InfoBytes returns the canonical bencoded bytes of the fetched info
// dictionary, whose SHA-1 is the infohash. It is only valid after
// Fetch has returned nil.
func (f *Fetcher) InfoBytes() []byte { return f.infoBytes }

func (f *Fetcher) negotiate() (err error) {
	if err = f.conn.Handshake(); err != nil {
		return
	} else if !f.conn.PeerExtBits.IsSupportExtended() {
		return ErrNotSupportExtended
	}

	if err = f.sendExtHandshake(); err != nil {
		return
	}

	ehmsg, err := readExtHandshake(f.conn)
	if err != nil {
		return
	}
	return f.renegotiate(ehmsg)
}

// renegotiate applies the extended handshake of the peer, which resets
// the accumulator: a changed metadata size invalidates every piece
// fetched so far.
func (f *Fetcher) renegotiate(ehmsg pp.ExtendedHandshakeMsg) (err error) {
	utmetadataID, ok := ehmsg.M[pp.ExtendedMessageNameMetadata]
	if !ok || utmetadataID == 0 {
		return ErrNotSupportMetadata
	} else if ehmsg.MetadataSize <= 0 {
		return ErrNoMetadataSize
	}

	f.utmetadataID = utmetadataID
	f.metadataSize = ehmsg.MetadataSize
	f.acc = f.acc[:0]
	return
}

func (f *Fetcher) sendExtHandshake() error {
	return f.conn.SendExtHandshakeMsg(pp.ExtendedHandshakeMsg{
		M: map[string]uint8{pp.ExtendedMessageNameMetadata: localMetadataID},
	})
}

func (f *Fetcher) requestPiece(piece int) error {
	payload, err := pp.UtMetadataExtendedMsg{
		MsgType: pp.UtMetadataExtendedMsgTypeRequest,
		Piece:   piece,
	}.EncodeToBytes()
	if err != nil {
		return err
	}
	return f.conn.SendExtMsg(f.utmetadataID, payload)
}

// Fetch runs the request loop until the whole info dictionary has been
// fetched and verified, then returns it.
//
// Fetch may be called again after a failure that did not come from the
// connection, which restarts the exchange from the first piece.
func (f *Fetcher) Fetch() (info metainfo.Info, err error) {
	f.acc = f.acc[:0]
	if err = f.sendExtHandshake(); err != nil {
		return
	}
	if err = f.requestPiece(0); err != nil {
		return
	}

	for f.info == nil {
		var msg pp.Message
		if msg, err = f.conn.ReadMsg(); err != nil {
			return
		}
		if err = HandleMessage(msg, f); err != nil {
			return
		}
	}
	return *f.info, nil
}

// OnExtHandshake implements the interface Handler#OnExtHandshake,
// which handles a repeated extended handshake in the middle of the
// session: the exchange is renegotiated, the accumulated pieces are
// discarded, and the loop restarts from the first piece.
func (f *Fetcher) OnExtHandshake(payload []byte) (err error) {
	var ehmsg pp.ExtendedHandshakeMsg
	if err = ehmsg.Decode(payload); err != nil {
		return
	}
	if err = f.renegotiate(ehmsg); err != nil {
		return
	}

	f.conf.Logger.Debug("metadata exchange is renegotiated",
		zap.Stringer("infohash", f.infohash),
		zap.Int("metadata_size", f.metadataSize))
	return f.requestPiece(0)
}

// OnMetadataData implements the interface Handler#OnMetadataData,
// which appends the data piece to the accumulator and requests the
// next one, or verifies the complete dictionary.
func (f *Fetcher) OnMetadataData(um pp.UtMetadataExtendedMsg) (err error) {
	// The next expected piece index is derived from the accumulator,
	// never trusted from the wire.
	piece := len(f.acc) / BlockSize
	if um.Piece != piece {
		return fmt.Errorf("%w: expect %d, but got %d", ErrUnexpectedPiece, piece, um.Piece)
	} else if len(um.Data) > BlockSize {
		return fmt.Errorf("%w: %d bytes", ErrPieceTooLong, len(um.Data))
	}

	f.acc = append(f.acc, um.Data...)
	switch {
	case len(f.acc) < f.metadataSize:
		err = f.requestPiece(piece + 1)
	case len(f.acc) == f.metadataSize:
		err = f.verify()
	default:
		err = fmt.Errorf("%w: %d > %d", ErrMetadataSizeExceeded, len(f.acc), f.metadataSize)
	}
	return
}

// verify checks that the accumulated bytes hash to the infohash and
// are a well-formed info dictionary.
func (f *Fetcher) verify() (err error) {
	if metainfo.NewHashFromBytes(f.acc) != f.infohash {
		return ErrInfoHashNotMatched
	}

	info, err := metainfo.DecodeInfo(f.acc)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInfoDict, err)
	}

	infoBytes := make([]byte, len(f.acc))
	copy(infoBytes, f.acc)
	f.info, f.infoBytes = &info, infoBytes
	f.conf.Logger.Debug("fetched the info dictionary",
		zap.Stringer("infohash", f.infohash),
		zap.Int("metadata_size", len(infoBytes)))
	return
}
