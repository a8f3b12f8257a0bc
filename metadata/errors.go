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

import "errors"

// Negotiation errors, which are returned before the first piece request
// is sent and mean the remote peer cannot take part in the exchange.
var (
	// ErrNotSupportExtended is returned if the peer does not set the
	// extension protocol bit (BEP 10) in its handshake.
	ErrNotSupportExtended = errors.New("the peer does not support the extension protocol")

	// ErrNotSupportMetadata is returned if the peer does not assign a
	// message id to "ut_metadata" in its extended handshake.
	ErrNotSupportMetadata = errors.New(`the peer does not support "ut_metadata"`)

	// ErrNoMetadataSize is returned if the peer does not announce a
	// positive "metadata_size" in its extended handshake.
	ErrNoMetadataSize = errors.New("the peer does not announce the metadata size")
)

// Protocol violations, which mean the peer answered with pieces that
// cannot belong to the announced dictionary.
var (
	// ErrUnexpectedPiece is returned if a data piece arrives out of the
	// strictly sequential order.
	ErrUnexpectedPiece = errors.New("unexpected metadata piece index")

	// ErrPieceTooLong is returned if a data piece is longer than the
	// fixed piece length.
	ErrPieceTooLong = errors.New("metadata piece exceeds the piece length")

	// ErrMetadataSizeExceeded is returned if the accumulated pieces
	// overrun the announced metadata size.
	ErrMetadataSizeExceeded = errors.New("metadata exceeds the announced size")
)

// Integrity errors, which mean the complete dictionary was received
// but is not the one the infohash names.
var (
	// ErrInvalidInfoDict is returned if the received metadata is not a
	// well-formed bencoded info dictionary.
	ErrInvalidInfoDict = errors.New("the metadata is not a valid info dictionary")

	// ErrInfoHashNotMatched is returned if the SHA-1 of the received
	// metadata differs from the requested infohash.
	ErrInfoHashNotMatched = errors.New("the metadata does not match the infohash")
)
