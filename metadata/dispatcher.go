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
	pp "github.com/xgfone/go-btmeta/peerprotocol"
)

// BlockSize is the fixed length in bytes of a metadata piece (BEP 9).
// It is never negotiated; only the last piece of a dictionary may be
// shorter.
const BlockSize = 16384 // 16KiB

// localMetadataID is the extended message id that this side assigns to
// "ut_metadata" in its own extended handshake. BEP 10 lets each side pick
// any non-zero id for the messages it receives, so a constant is fine.
const localMetadataID = 1

// Handler handles the peer messages of one metadata session.
//
// Both exchange roles implement Handler and embed NoopHandler for the
// hooks outside their role.
type Handler interface {
	// OnExtHandshake is called with the bencoded payload of an extended
	// handshake message (BEP 10).
	OnExtHandshake(payload []byte) error

	// OnMetadataRequest is called with a "ut_metadata" request message.
	OnMetadataRequest(msg pp.UtMetadataExtendedMsg) error

	// OnMetadataData is called with a "ut_metadata" data message, whose
	// Data field holds the raw piece bytes.
	OnMetadataData(msg pp.UtMetadataExtendedMsg) error
}

// NoopHandler implements Handler, which does nothing and is embedded
// by the real handlers to ignore the hooks they do not care about.
type NoopHandler struct{}

// OnExtHandshake implements the interface Handler#OnExtHandshake.
func (NoopHandler) OnExtHandshake([]byte) error { return nil }

// OnMetadataRequest implements the interface Handler#OnMetadataRequest.
func (NoopHandler) OnMetadataRequest(pp.UtMetadataExtendedMsg) error { return nil }

// OnMetadataData implements the interface Handler#OnMetadataData.
func (NoopHandler) OnMetadataData(pp.UtMetadataExtendedMsg) error { return nil }

// HandleMessage routes the peer message msg to the handler h.
//
// Keepalives, the regular transfer messages (BEP 3), and the extended
// messages of other extensions are ignored, so the exchange can share
// the connection with a peer that also speaks the transfer protocol.
// "ut_metadata" reject messages and unknown message kinds are ignored
// as well.
func HandleMessage(msg pp.Message, h Handler) (err error) {
	if msg.Keepalive || msg.Type != pp.Extended {
		return
	}

	switch msg.ExtendedID {
	case pp.ExtendedIDHandshake:
		err = h.OnExtHandshake(msg.ExtendedPayload)
	case localMetadataID:
		var um pp.UtMetadataExtendedMsg
		if err = um.DecodeFromPayload(msg.ExtendedPayload); err != nil {
			return
		}
		switch um.MsgType {
		case pp.UtMetadataExtendedMsgTypeData:
			err = h.OnMetadataData(um)
		case pp.UtMetadataExtendedMsgTypeRequest:
			err = h.OnMetadataRequest(um)
		}
	}

	return
}

// countPieces returns the number of metadata pieces of a dictionary
// of the given size.
func countPieces(size int) (n int) {
	if n = size / BlockSize; size%BlockSize > 0 {
		n++
	}
	return
}

// pieceBounds returns the byte range [start, end) of the given piece
// in a dictionary of the given size.
func pieceBounds(size, piece int) (start, end int) {
	start = piece * BlockSize
	if end = start + BlockSize; end > size {
		end = size
	}
	return
}
