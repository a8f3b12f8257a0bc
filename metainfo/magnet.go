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
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const xtPrefix = "urn:btih:"

// Magnet represents the components of a magnet link.
//
// A magnet link carries no info dictionary, only its infohash. The dictionary
// itself is obtained from one of the peers by the metadata exchange.
type Magnet struct {
	InfoHash    Hash       // From "xt"
	Trackers    []string   // From "tr"
	DisplayName string     // From "dn" if not empty
	Params      url.Values // All other values, such as "x.pe", "as", "xs", etc
}

// Peers returns the addresses of the peers carried by the "x.pe" parameter.
//
// BEP 9
func (m Magnet) Peers() (peers []HostAddr, err error) {
	vs := m.Params["x.pe"]
	peers = make([]HostAddr, 0, len(vs))
	for _, v := range vs {
		if v != "" {
			var addr HostAddr
			if addr, err = ParseHostAddr(v); err != nil {
				return
			}
			peers = append(peers, addr)
		}
	}
	return
}

func (m Magnet) String() string {
	vs := make(url.Values, len(m.Params)+len(m.Trackers)+2)
	for k, v := range m.Params {
		vs[k] = append([]string(nil), v...)
	}

	for _, tr := range m.Trackers {
		vs.Add("tr", tr)
	}
	if m.DisplayName != "" {
		vs.Add("dn", m.DisplayName)
	}

	// Transmission and Deluge both expect "urn:btih:" to be unescaped
	// and at the start of the magnet link.
	u := url.URL{
		Scheme:   "magnet",
		RawQuery: "xt=" + xtPrefix + m.InfoHash.HexString(),
	}
	if len(vs) != 0 {
		u.RawQuery += "&" + vs.Encode()
	}
	return u.String()
}

// ParseMagnetURI parses Magnet-formatted URIs into a Magnet instance.
func ParseMagnetURI(uri string) (m Magnet, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		err = fmt.Errorf("error parsing uri: %w", err)
		return
	} else if u.Scheme != "magnet" {
		err = fmt.Errorf("unexpected scheme %q", u.Scheme)
		return
	}

	q := u.Query()
	xt := q.Get("xt")
	if m.InfoHash, err = parseInfohash(xt); err != nil {
		err = fmt.Errorf("error parsing infohash %q: %w", xt, err)
		return
	}
	dropFirst(q, "xt")

	m.DisplayName = q.Get("dn")
	dropFirst(q, "dn")

	m.Trackers = q["tr"]
	delete(q, "tr")

	if len(q) == 0 {
		q = nil
	}

	m.Params = q
	return
}

func parseInfohash(xt string) (ih Hash, err error) {
	if !strings.HasPrefix(xt, xtPrefix) {
		err = errors.New("bad xt parameter prefix")
		return
	}

	encoded := xt[len(xtPrefix):]
	switch len(encoded) {
	case 40:
		err = ih.FromHexString(encoded)
	case 32:
		err = ih.FromBase32String(encoded)
	default:
		err = fmt.Errorf("unhandled xt parameter encoding (encoded length %d)",
			len(encoded))
	}

	if err != nil {
		err = fmt.Errorf("error decoding xt: %w", err)
	}
	return
}

func dropFirst(vs url.Values, key string) {
	sl := vs[key]
	switch len(sl) {
	case 0, 1:
		vs.Del(key)
	default:
		vs[key] = sl[1:]
	}
}
