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
	"time"

	"github.com/xgfone/go-btmeta/metainfo"
	pp "github.com/xgfone/go-btmeta/peerprotocol"
	"go.uber.org/zap"
)

// Config is used to configure a Fetcher, a Seeder or a Server.
type Config struct {
	// ID is the id of the local peer.
	//
	// The default is a random hash.
	ID metainfo.Hash

	// Timeout is the read and write deadline of the connection,
	// which bounds how long a session may stall.
	//
	// The default is 0, that's, no deadline.
	Timeout time.Duration

	// MaxLength is the maximum length of a peer message.
	//
	// The default is 0, that's, no limit.
	MaxLength uint32

	// MaxSessions is the maximum number of the concurrent seeding
	// sessions, which is only used by Server.
	//
	// The default is 128.
	MaxSessions int64

	// Logger is used to log the session events.
	//
	// The default is zap.L().
	Logger *zap.Logger
}

func (c *Config) set(conf ...Config) {
	if len(conf) > 0 {
		*c = conf[0]
	}
	if c.ID.IsZero() {
		c.ID = metainfo.NewRandomHash()
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 128
	}
	if c.Logger == nil {
		c.Logger = zap.L()
	}
}

// readExtHandshake reads peer messages from conn until the extended
// handshake arrives, skipping whatever the peer sends first, such as
// a bitfield or have messages.
func readExtHandshake(conn *pp.PeerConn) (ehmsg pp.ExtendedHandshakeMsg, err error) {
	for {
		var msg pp.Message
		if msg, err = conn.ReadMsg(); err != nil {
			return
		}
		if msg.Keepalive || msg.Type != pp.Extended || msg.ExtendedID != pp.ExtendedIDHandshake {
			continue
		}
		err = ehmsg.Decode(msg.ExtendedPayload)
		return
	}
}
