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
	"path/filepath"

	"github.com/zeebo/bencode"
)

// Info is the info dictionary of a torrent.
//
// The metadata exchange engine treats it as opaque beyond its canonical
// bencoding, which determines both its total size and its infohash.
// The bencode keys are emitted in sorted order, so encoding the same Info
// always produces the same bytes.
type Info struct {
	// Name is the name of the file in the single file case.
	// Or, it is the name of the directory in the multiple file case.
	Name string `bencode:"name"` // BEP 3

	// PieceLength is the number of bytes in each piece.
	PieceLength int64 `bencode:"piece length"` // BEP 3

	// Pieces is the concatenation of all 20-byte SHA1 hash values,
	// one per piece.
	Pieces Hashes `bencode:"pieces"` // BEP 3

	// Length is the length of the file in bytes in the single file case.
	//
	// It's mutually exclusive with Files.
	Length int64 `bencode:"length,omitempty"` // BEP 3

	// Files is the list of all the files in the multi-file case.
	//
	// It's mutually exclusive with Length.
	Files []File `bencode:"files,omitempty"` // BEP 3

	// Private, if set, restricts peer discovery to the tracker.
	Private bool `bencode:"private,omitempty"` // BEP 27
}

// DecodeInfo decodes an Info from its bencoding.
func DecodeInfo(b []byte) (info Info, err error) {
	err = bencode.DecodeBytes(b, &info)
	return
}

// EncodeInfo encodes the info dictionary to its canonical bencoding.
func EncodeInfo(info Info) ([]byte, error) {
	return bencode.EncodeBytes(info)
}

// Hash returns the infohash, that's, the SHA1 hash of the canonical
// bencoding of the info dictionary.
func (info Info) Hash() (h Hash, err error) {
	b, err := EncodeInfo(info)
	if err == nil {
		h = NewHashFromBytes(b)
	}
	return
}

// IsDir reports whether the torrent is a directory instead of a single file.
func (info Info) IsDir() bool { return len(info.Files) != 0 }

// CountPieces returns the number of the pieces.
func (info Info) CountPieces() int { return len(info.Pieces) }

// TotalLength returns the total length of the torrent file.
func (info Info) TotalLength() (ret int64) {
	if info.IsDir() {
		for _, fi := range info.Files {
			ret += fi.Length
		}
	} else {
		ret = info.Length
	}
	return
}

// File represents a file in the multi-file case.
type File struct {
	// Length is the length of the file in bytes.
	Length int64 `bencode:"length"` // BEP 3

	// Paths is a list containing one or more string elements that together
	// represent the path and filename, each element corresponding to either
	// a directory name or (for the final element) the filename.
	Paths []string `bencode:"path"` // BEP 3
}

func (f File) String() string {
	return filepath.Join(f.Paths...)
}
