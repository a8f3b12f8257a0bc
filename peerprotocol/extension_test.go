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
	"testing"
)

func TestCompactIP(t *testing.T) {
	ipv4 := CompactIP([]byte{1, 2, 3, 4})
	b, err := ipv4.MarshalBencode()
	if err != nil {
		t.Fatal(err)
	}

	var ip CompactIP
	if err = ip.UnmarshalBencode(b); err != nil {
		t.Error(err)
	} else if ip.String() != "1.2.3.4" {
		t.Error(ip)
	}
}

func TestExtendedHandshakeMsg(t *testing.T) {
	m1 := ExtendedHandshakeMsg{
		M:            map[string]uint8{ExtendedMessageNameMetadata: 1},
		MetadataSize: 1024,
	}

	b, err := m1.Encode()
	if err != nil {
		t.Fatal(err)
	}

	var m2 ExtendedHandshakeMsg
	if err = m2.Decode(b); err != nil {
		t.Fatal(err)
	} else if m2.MetadataSize != 1024 {
		t.Error(m2)
	} else if m2.M[ExtendedMessageNameMetadata] != 1 {
		t.Error(m2.M)
	}

	// metadata_size is omitted when unknown.
	m1.MetadataSize = 0
	if b, err = m1.Encode(); err != nil {
		t.Fatal(err)
	} else if bytes.Contains(b, []byte("metadata_size")) {
		t.Error(string(b))
	}
}

func TestUtMetadataExtendedMsg(t *testing.T) {
	buf := new(bytes.Buffer)
	data := []byte{0x31, 0x32, 0x33, 0x34, 0x35}
	m1 := UtMetadataExtendedMsg{MsgType: 1, Piece: 2, TotalSize: 1024, Data: data}
	if err := m1.EncodeToPayload(buf); err != nil {
		t.Fatal(err)
	}

	var m2 UtMetadataExtendedMsg
	if err := m2.DecodeFromPayload(buf.Bytes()); err != nil {
		t.Fatal(err)
	} else if m2.MsgType != 1 || m2.Piece != 2 || m2.TotalSize != 1024 {
		t.Error(m2)
	} else if !bytes.Equal(m2.Data, data) {
		t.Fail()
	}
}

// The Data payload has no delimiter between the bencoded header and the raw
// piece bytes; the split point is the length of the re-encoded header. Pin
// the exact offset for a known header so the wire format cannot drift.
func TestUtMetadataExtendedMsgBoundary(t *testing.T) {
	m := UtMetadataExtendedMsg{MsgType: 1, Piece: 0, TotalSize: 5, Data: []byte("12345")}
	b, err := m.EncodeToBytes()
	if err != nil {
		t.Fatal(err)
	}

	header := "d8:msg_typei1e5:piecei0e10:total_sizei5ee"
	if len(b) != len(header)+5 {
		t.Fatalf("expect the payload length %d, but got %d", len(header)+5, len(b))
	} else if string(b[:len(header)]) != header {
		t.Errorf("unexpected header %q", string(b[:len(header)]))
	} else if string(b[len(header):]) != "12345" {
		t.Errorf("unexpected piece data %q", string(b[len(header):]))
	}

	var m2 UtMetadataExtendedMsg
	if err = m2.DecodeFromPayload(b); err != nil {
		t.Fatal(err)
	} else if string(m2.Data) != "12345" {
		t.Errorf("unexpected piece data %q", string(m2.Data))
	}
}

// A Request must not carry total_size nor trailing data even if set.
func TestUtMetadataExtendedMsgRequest(t *testing.T) {
	m := UtMetadataExtendedMsg{MsgType: 0, Piece: 3, TotalSize: 9, Data: []byte("x")}
	b, err := m.EncodeToBytes()
	if err != nil {
		t.Fatal(err)
	}

	expect := "d8:msg_typei0e5:piecei3ee"
	if string(b) != expect {
		t.Errorf("expect %q, but got %q", expect, string(b))
	}
}
