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

// Package metadata implements the "ut_metadata" exchange (BEP 9), which
// transfers the info dictionary of a torrent directly between two peers,
// so that a magnet link can be resolved without a .torrent file.
//
// The exchange is symmetric and piece-based. A Fetcher drives a strictly
// sequential request loop against a remote peer until the whole dictionary
// is retrieved and verified against the infohash. A Seeder answers piece
// requests from an already-known dictionary. Both roles share one message
// router, HandleMessage, and differ only in the hooks they implement.
//
// Every session is synchronous and blocking, and is expected to run on its
// own goroutine. A session is torn down by closing the underlying connection;
// the read deadline of the connection is the only liveness guarantee.
package metadata
