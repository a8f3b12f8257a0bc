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
	"net"
	"testing"
	"time"

	"github.com/xgfone/go-btmeta/metainfo"
	pp "github.com/xgfone/go-btmeta/peerprotocol"
)

func testInfo(npieces int) metainfo.Info {
	info := metainfo.Info{
		Name:        "file.txt",
		PieceLength: 262144,
		Length:      int64(npieces) * 262144,
		Pieces:      make(metainfo.Hashes, npieces),
	}
	for i := range info.Pieces {
		info.Pieces[i] = metainfo.NewHashFromBytes([]byte{byte(i), byte(i >> 8)})
	}
	return info
}

func listen(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

// acceptPeer accepts one connection on ln and performs the protocol
// handshake for infohash. It must be called on the peer goroutine,
// not the test goroutine.
func acceptPeer(t *testing.T, ln net.Listener, infohash metainfo.Hash, extended bool) *pp.PeerConn {
	conn, err := ln.Accept()
	if err != nil {
		t.Error(err)
		return nil
	}

	pc := pp.NewPeerConn(conn, metainfo.NewRandomHash(), infohash)
	pc.Timeout = time.Second
	if extended {
		pc.ExtBits.Set(pp.ExtensionBitExtended)
	}
	if err := pc.Handshake(); err != nil {
		t.Error(err)
		conn.Close()
		return nil
	}
	return pc
}

// peerMetadataID is the "ut_metadata" id the scripted peers announce
// in their extended handshake. It differs from the id the fetcher
// announces for itself, so the requests must arrive on the announced
// id, not on a hardcoded one.
const peerMetadataID = 3

// answerRequests answers every "ut_metadata" piece request on pc from
// the raw dictionary b until the connection fails.
func answerRequests(pc *pp.PeerConn, b []byte, mangle func(pp.UtMetadataExtendedMsg) pp.UtMetadataExtendedMsg) {
	for {
		msg, err := pc.ReadMsg()
		if err != nil {
			return
		}
		if msg.Keepalive || msg.Type != pp.Extended || msg.ExtendedID != peerMetadataID {
			continue
		}

		var um pp.UtMetadataExtendedMsg
		if um.DecodeFromPayload(msg.ExtendedPayload) != nil {
			continue
		}
		if um.MsgType != pp.UtMetadataExtendedMsgTypeRequest {
			continue
		}

		start, end := pieceBounds(len(b), um.Piece)
		data := pp.UtMetadataExtendedMsg{
			MsgType:   pp.UtMetadataExtendedMsgTypeData,
			Piece:     um.Piece,
			TotalSize: len(b),
			Data:      b[start:end],
		}
		if mangle != nil {
			data = mangle(data)
		}

		payload, err := data.EncodeToBytes()
		if err != nil {
			return
		}
		if pc.SendExtMsg(localMetadataID, payload) != nil {
			return
		}
	}
}

func TestFetchSinglePiece(t *testing.T) {
	info := testInfo(4)
	server, err := NewServerByListen("tcp", "127.0.0.1:0", info, Config{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	go server.Run()

	f, err := NewFetcher(server.Addr().String(), server.InfoHash(), Config{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, err := f.Fetch()
	if err != nil {
		t.Fatal(err)
	}

	if n := len(f.InfoBytes()); n > BlockSize {
		t.Fatalf("expect a single-piece dictionary, but got %d bytes", n)
	}
	if metainfo.NewHashFromBytes(f.InfoBytes()) != server.InfoHash() {
		t.Error("the fetched bytes do not hash to the infohash")
	}
	if got.Name != info.Name || got.Length != info.Length {
		t.Errorf("expect the info %+v, but got %+v", info, got)
	}
}

func TestFetchMultiPiece(t *testing.T) {
	info := testInfo(1200) // about 24KB of piece hashes, exactly two metadata pieces
	server, err := NewServerByListen("tcp", "127.0.0.1:0", info, Config{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	go server.Run()

	f, err := NewFetcher(server.Addr().String(), server.InfoHash(), Config{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, err := f.Fetch()
	if err != nil {
		t.Fatal(err)
	}

	if n := countPieces(len(f.InfoBytes())); n != 2 {
		t.Fatalf("expect a two-piece dictionary, but got %d pieces", n)
	}
	if len(got.Pieces) != len(info.Pieces) {
		t.Fatalf("expect %d piece hashes, but got %d", len(info.Pieces), len(got.Pieces))
	}
	for i, hash := range info.Pieces {
		if got.Pieces[i] != hash {
			t.Errorf("piece hash %d does not match", i)
		}
	}
}

func TestFetchNegotiationErrors(t *testing.T) {
	infohash := metainfo.NewHashFromBytes([]byte("negotiation"))

	tests := []struct {
		name     string
		extended bool
		ehmsg    *pp.ExtendedHandshakeMsg
		err      error
	}{
		{name: "noextendedbit", err: ErrNotSupportExtended},
		{
			name:     "nometadataid",
			extended: true,
			ehmsg:    &pp.ExtendedHandshakeMsg{M: map[string]uint8{pp.ExtendedMessageNamePex: 2}, MetadataSize: 100},
			err:      ErrNotSupportMetadata,
		},
		{
			name:     "nometadatasize",
			extended: true,
			ehmsg:    &pp.ExtendedHandshakeMsg{M: map[string]uint8{pp.ExtendedMessageNameMetadata: peerMetadataID}},
			err:      ErrNoMetadataSize,
		},
	}

	for _, test := range tests {
		ln := listen(t)
		go func(extended bool, ehmsg *pp.ExtendedHandshakeMsg) {
			pc := acceptPeer(t, ln, infohash, extended)
			if pc == nil {
				return
			}
			defer pc.Close()
			if ehmsg != nil {
				if err := pc.SendExtHandshakeMsg(*ehmsg); err != nil {
					t.Error(err)
				}
			}
			answerRequests(pc, nil, nil)
		}(test.extended, test.ehmsg)

		_, err := NewFetcher(ln.Addr().String(), infohash, Config{Timeout: time.Second})
		if !errors.Is(err, test.err) {
			t.Errorf("%s: expect the error %v, but got %v", test.name, test.err, err)
		}
	}
}

func TestFetchHashMismatch(t *testing.T) {
	infoBytes, err := metainfo.EncodeInfo(testInfo(2000))
	if err != nil {
		t.Fatal(err)
	}
	infohash := metainfo.NewHashFromBytes(infoBytes)

	bad := make([]byte, len(infoBytes))
	copy(bad, infoBytes)
	bad[len(bad)-1] ^= 0xff

	ln := listen(t)
	go func() {
		pc := acceptPeer(t, ln, infohash, true)
		if pc == nil {
			return
		}
		defer pc.Close()

		err := pc.SendExtHandshakeMsg(pp.ExtendedHandshakeMsg{
			M:            map[string]uint8{pp.ExtendedMessageNameMetadata: peerMetadataID},
			MetadataSize: len(bad),
		})
		if err != nil {
			t.Error(err)
			return
		}
		answerRequests(pc, bad, nil)
	}()

	f, err := NewFetcher(ln.Addr().String(), infohash, Config{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err = f.Fetch(); !errors.Is(err, ErrInfoHashNotMatched) {
		t.Errorf("expect the error %v, but got %v", ErrInfoHashNotMatched, err)
	}
}

func TestFetchUnexpectedPiece(t *testing.T) {
	infoBytes, err := metainfo.EncodeInfo(testInfo(4))
	if err != nil {
		t.Fatal(err)
	}
	infohash := metainfo.NewHashFromBytes(infoBytes)

	ln := listen(t)
	go func() {
		pc := acceptPeer(t, ln, infohash, true)
		if pc == nil {
			return
		}
		defer pc.Close()

		err := pc.SendExtHandshakeMsg(pp.ExtendedHandshakeMsg{
			M:            map[string]uint8{pp.ExtendedMessageNameMetadata: peerMetadataID},
			MetadataSize: len(infoBytes),
		})
		if err != nil {
			t.Error(err)
			return
		}
		answerRequests(pc, infoBytes, func(um pp.UtMetadataExtendedMsg) pp.UtMetadataExtendedMsg {
			um.Piece++
			return um
		})
	}()

	f, err := NewFetcher(ln.Addr().String(), infohash, Config{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err = f.Fetch(); !errors.Is(err, ErrUnexpectedPiece) {
		t.Errorf("expect the error %v, but got %v", ErrUnexpectedPiece, err)
	}
}

// readRequest reads peer messages on pc until a "ut_metadata" piece
// request arrives on the announced id, and returns its piece index.
func readRequest(t *testing.T, pc *pp.PeerConn) (piece int, ok bool) {
	for {
		msg, err := pc.ReadMsg()
		if err != nil {
			t.Error(err)
			return
		}
		if msg.Keepalive || msg.Type != pp.Extended || msg.ExtendedID != peerMetadataID {
			continue
		}

		var um pp.UtMetadataExtendedMsg
		if um.DecodeFromPayload(msg.ExtendedPayload) != nil {
			continue
		}
		if um.MsgType == pp.UtMetadataExtendedMsgTypeRequest {
			return um.Piece, true
		}
	}
}

func TestFetchRenegotiation(t *testing.T) {
	infoBytes, err := metainfo.EncodeInfo(testInfo(1200)) // two metadata pieces
	if err != nil {
		t.Fatal(err)
	}
	infohash := metainfo.NewHashFromBytes(infoBytes)

	ln := listen(t)
	go func() {
		pc := acceptPeer(t, ln, infohash, true)
		if pc == nil {
			return
		}
		defer pc.Close()

		// Announce a wrong size and serve the first piece under it, so
		// the fetcher has real partial accumulation to discard. Then
		// correct the size with a second handshake instead of answering
		// the second request.
		wrongSize := len(infoBytes) + 7
		err := pc.SendExtHandshakeMsg(pp.ExtendedHandshakeMsg{
			M:            map[string]uint8{pp.ExtendedMessageNameMetadata: peerMetadataID},
			MetadataSize: wrongSize,
		})
		if err != nil {
			t.Error(err)
			return
		}

		piece, ok := readRequest(t, pc)
		if !ok {
			return
		} else if piece != 0 {
			t.Errorf("expect the request for piece 0, but got %d", piece)
			return
		}

		payload, err := pp.UtMetadataExtendedMsg{
			MsgType:   pp.UtMetadataExtendedMsgTypeData,
			Piece:     0,
			TotalSize: wrongSize,
			Data:      infoBytes[:BlockSize],
		}.EncodeToBytes()
		if err != nil {
			t.Error(err)
			return
		}
		if err = pc.SendExtMsg(localMetadataID, payload); err != nil {
			t.Error(err)
			return
		}

		if piece, ok = readRequest(t, pc); !ok {
			return
		} else if piece != 1 {
			t.Errorf("expect the request for piece 1, but got %d", piece)
			return
		}

		err = pc.SendExtHandshakeMsg(pp.ExtendedHandshakeMsg{
			M:            map[string]uint8{pp.ExtendedMessageNameMetadata: peerMetadataID},
			MetadataSize: len(infoBytes),
		})
		if err != nil {
			t.Error(err)
			return
		}
		answerRequests(pc, infoBytes, nil)
	}()

	f, err := NewFetcher(ln.Addr().String(), infohash, Config{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err = f.Fetch(); err != nil {
		t.Fatal(err)
	}
	if metainfo.NewHashFromBytes(f.InfoBytes()) != infohash {
		t.Error("the fetched bytes do not hash to the infohash")
	}
}
