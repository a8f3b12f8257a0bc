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

package peerprotocol

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/xgfone/go-btmeta/metainfo"
	"github.com/zeebo/bencode"
)

// ErrInfoHashMismatch is returned by Handshake when the infohash sent back
// by the peer is not the one the connection is bound to.
var ErrInfoHashMismatch = fmt.Errorf("the peer infohash does not match")

// PeerConn is a connection to a peer, bound to one infohash.
//
// It only frames and exchanges the messages. The read deadline given by
// Timeout is the sole liveness guarantee of the blocking calls; the protocol
// sessions built on top of it implement no timeout of their own.
type PeerConn struct {
	net.Conn

	// ID is the id of the local peer.
	ID metainfo.Hash

	// InfoHash is the infohash the connection is bound to.
	InfoHash metainfo.Hash

	// ExtBits is the extension bits announced by the local peer
	// in the handshake.
	ExtBits ExtensionBits

	// PeerID and PeerExtBits are learned from the peer's handshake.
	PeerID      metainfo.Hash
	PeerExtBits ExtensionBits

	// Timeout is used to control the timeout of reading/writing the message.
	//
	// The default is 0, which represents no timeout.
	Timeout time.Duration

	// MaxLength is used to limit the maximum number of the message body.
	//
	// The default is 0, which represents no limit.
	MaxLength uint32
}

// NewPeerConn returns a new PeerConn on an established connection.
func NewPeerConn(conn net.Conn, id, infohash metainfo.Hash) *PeerConn {
	return &PeerConn{Conn: conn, ID: id, InfoHash: infohash}
}

// NewPeerConnByDial returns a new PeerConn by dialing to addr
// with the "tcp" network.
func NewPeerConnByDial(addr string, id, infohash metainfo.Hash,
	timeout time.Duration) (pc *PeerConn, err error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}

	pc = NewPeerConn(conn, id, infohash)
	pc.Timeout = timeout
	return
}

func (pc *PeerConn) setReadTimeout() {
	if pc.Timeout > 0 {
		pc.Conn.SetReadDeadline(time.Now().Add(pc.Timeout))
	}
}

func (pc *PeerConn) setWriteTimeout() {
	if pc.Timeout > 0 {
		pc.Conn.SetWriteDeadline(time.Now().Add(pc.Timeout))
	}
}

// Handshake does the BEP 3 handshake with the peer and records its peer id
// and extension bits.
//
// If the peer answers with a different infohash, it returns
// ErrInfoHashMismatch and the connection must not be used further.
func (pc *PeerConn) Handshake() (err error) {
	m := HandshakeMsg{ExtensionBits: pc.ExtBits, PeerID: pc.ID, InfoHash: pc.InfoHash}
	pc.setWriteTimeout()
	pc.setReadTimeout()

	ret, err := Handshake(pc.Conn, m)
	if err != nil {
		return
	} else if ret.InfoHash != pc.InfoHash {
		return ErrInfoHashMismatch
	}

	pc.PeerID = ret.PeerID
	pc.PeerExtBits = ret.ExtensionBits
	return
}

// ReadMsg reads one message from the peer.
//
// BEP 3
func (pc *PeerConn) ReadMsg() (m Message, err error) {
	pc.setReadTimeout()
	err = m.Decode(pc.Conn, pc.MaxLength)
	return
}

// WriteMsg writes the message to the peer.
//
// BEP 3
func (pc *PeerConn) WriteMsg(m Message) (err error) {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	if err = m.Encode(buf); err == nil {
		pc.setWriteTimeout()

		var n int
		if n, err = pc.Conn.Write(buf.Bytes()); err == nil && n < buf.Len() {
			err = io.ErrShortWrite
		}
	}
	return
}

// SendKeepalive sends a Keepalive message to the peer.
//
// BEP 3
func (pc *PeerConn) SendKeepalive() error {
	return pc.WriteMsg(Message{Keepalive: true})
}

// SendExtHandshakeMsg sends the Extended Handshake message to the peer.
//
// BEP 10
func (pc *PeerConn) SendExtHandshakeMsg(m ExtendedHandshakeMsg) (err error) {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	if err = bencode.NewEncoder(buf).Encode(m); err == nil {
		err = pc.SendExtMsg(ExtendedIDHandshake, buf.Bytes())
	}
	return
}

// SendExtMsg sends the Extended message with the extended id and the payload.
//
// BEP 10
func (pc *PeerConn) SendExtMsg(extID uint8, payload []byte) error {
	return pc.WriteMsg(Message{Type: Extended, ExtendedID: extID, ExtendedPayload: payload})
}
