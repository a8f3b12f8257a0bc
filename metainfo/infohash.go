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

package metainfo

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/bencode"
)

var zeroHash Hash

// HashSize is the size of the infohash.
const HashSize = 20

// Hash is the 20-byte SHA1 hash used for the info dictionary and pieces.
//
// It is the target identifier of the metadata exchange: the peer connection
// is bound to it by the handshake, and a fetched info dictionary is accepted
// only if its canonical bencoding hashes back to it.
type Hash [HashSize]byte

// NewRandomHash returns a random hash, which may be used as a peer id.
func NewRandomHash() (h Hash) {
	rand.Read(h[:])
	return
}

// NewHash converts the first 20 bytes of b to Hash.
func NewHash(b []byte) (h Hash) {
	copy(h[:], b[:HashSize])
	return
}

// NewHashFromBytes returns the SHA1 hash of b.
func NewHashFromBytes(b []byte) Hash {
	return Hash(sha1.Sum(b))
}

// NewHashFromHexString returns a new Hash from a hex string.
func NewHashFromHexString(s string) (h Hash) {
	if err := h.FromHexString(s); err != nil {
		panic(err)
	}
	return
}

// Bytes returns the byte slice type.
func (h Hash) Bytes() []byte { return h[:] }

// String is equal to HexString.
func (h Hash) String() string { return h.HexString() }

// HexString returns the hex string format.
func (h Hash) HexString() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether the whole hash is zero.
func (h Hash) IsZero() bool { return h == zeroHash }

// FromHexString resets the hash from the hex string.
func (h *Hash) FromHexString(s string) (err error) {
	if len(s) != 2*HashSize {
		return fmt.Errorf("hash hex string has bad length: %d", len(s))
	}
	_, err = hex.Decode(h[:], []byte(s))
	return
}

// FromBase32String resets the hash from the base32 string.
func (h *Hash) FromBase32String(s string) (err error) {
	if len(s) != 32 {
		return fmt.Errorf("hash base32 string has bad length: %d", len(s))
	}
	_, err = base32.StdEncoding.Decode(h[:], []byte(s))
	return
}

// Hashes is a list of Hashes, which is encoded to bencode as the
// concatenation of all the 20-byte hash values.
type Hashes []Hash

// MarshalBencode implements the interface bencode.Marshaler.
func (hs Hashes) MarshalBencode() ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	buf.Grow(HashSize * len(hs))
	for _, h := range hs {
		buf.Write(h[:])
	}
	return bencode.EncodeBytes(buf.Bytes())
}

// UnmarshalBencode implements the interface bencode.Unmarshaler.
func (hs *Hashes) UnmarshalBencode(b []byte) (err error) {
	var bs []byte
	if err = bencode.DecodeBytes(b, &bs); err != nil {
		return
	}

	_len := len(bs)
	if _len%HashSize != 0 {
		return fmt.Errorf("Hashes: invalid bytes length '%d'", _len)
	}

	hashes := make(Hashes, 0, _len/HashSize)
	for i := 0; i < _len; i += HashSize {
		hashes = append(hashes, NewHash(bs[i:i+HashSize]))
	}

	*hs = hashes
	return
}
