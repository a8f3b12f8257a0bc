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

// Package downloader fans metadata fetches out to a pool of workers,
// one peer connection per request, and reports the fetched info
// dictionaries on a response channel.
package downloader

import (
	"time"

	"github.com/google/uuid"
	"github.com/xgfone/go-btmeta/metadata"
	"github.com/xgfone/go-btmeta/metainfo"
	"go.uber.org/zap"
)

// Response is the result of one successful metadata fetch.
type Response struct {
	// RequestID is the id returned by the Request call that produced
	// this response.
	RequestID string

	// Addr is the address of the peer the metadata was fetched from.
	Addr string

	// PeerID is the id the peer sent in its handshake.
	PeerID metainfo.Hash

	InfoHash  metainfo.Hash
	InfoBytes []byte
	Info      metainfo.Info
}

// MetaInfo converts the response to a torrent file container, which can
// be written out as a .torrent file.
func (r Response) MetaInfo() metainfo.MetaInfo {
	return metainfo.MetaInfo{
		InfoBytes:    metainfo.Bytes(r.InfoBytes),
		CreationDate: time.Now().Unix(),
	}
}

type request struct {
	id       string
	addr     string
	infohash metainfo.Hash
}

// Config is used to configure the metadata downloader.
type Config struct {
	// ID is the id of the local peer.
	//
	// The default is a random hash.
	ID metainfo.Hash

	// WorkerNum is the number of the concurrent fetch workers.
	//
	// The default is 128.
	WorkerNum int

	// Timeout is the dial and read/write deadline of each fetch.
	//
	// The default is 10s.
	Timeout time.Duration

	// Logger is used to log the fetch events.
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
	if c.WorkerNum <= 0 {
		c.WorkerNum = 128
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second * 10
	}
	if c.Logger == nil {
		c.Logger = zap.L()
	}
}

// MetadataDownloader fetches info dictionaries from remote peers on a
// pool of worker goroutines.
type MetadataDownloader struct {
	conf      Config
	exit      chan struct{}
	requests  chan request
	responses chan Response
}

// NewMetadataDownloader returns a new MetadataDownloader and starts
// its workers.
func NewMetadataDownloader(conf ...Config) *MetadataDownloader {
	var c Config
	c.set(conf...)

	d := &MetadataDownloader{
		conf:      c,
		exit:      make(chan struct{}),
		requests:  make(chan request, c.WorkerNum),
		responses: make(chan Response, c.WorkerNum),
	}
	for i := 0; i < c.WorkerNum; i++ {
		go d.worker()
	}
	return d
}

// Close stops all the workers. Pending requests are dropped.
func (d *MetadataDownloader) Close() {
	select {
	case <-d.exit:
	default:
		close(d.exit)
	}
}

// Response returns the channel the fetched info dictionaries are
// reported on. Failed fetches are only logged.
func (d *MetadataDownloader) Response() <-chan Response {
	return d.responses
}

// Request asks the downloader to fetch the metadata of infohash from
// the peer at addr, and returns the request id that correlates the
// eventual response and the log lines of the fetch.
func (d *MetadataDownloader) Request(addr string, infohash metainfo.Hash) (id string) {
	id = uuid.NewString()
	select {
	case d.requests <- request{id: id, addr: addr, infohash: infohash}:
	case <-d.exit:
	}
	return
}

// RequestMagnet requests the metadata of the magnet link from every
// peer the link names in its "x.pe" parameters.
func (d *MetadataDownloader) RequestMagnet(m metainfo.Magnet) (ids []string, err error) {
	peers, err := m.Peers()
	if err != nil {
		return
	}

	ids = make([]string, 0, len(peers))
	for _, peer := range peers {
		ids = append(ids, d.Request(peer.String(), m.InfoHash))
	}
	return
}

func (d *MetadataDownloader) worker() {
	for {
		select {
		case <-d.exit:
			return
		case r := <-d.requests:
			d.fetch(r)
		}
	}
}

func (d *MetadataDownloader) fetch(r request) {
	logger := d.conf.Logger.With(
		zap.String("request_id", r.id),
		zap.String("peeraddr", r.addr),
		zap.Stringer("infohash", r.infohash))

	f, err := metadata.NewFetcher(r.addr, r.infohash, metadata.Config{
		ID:      d.conf.ID,
		Timeout: d.conf.Timeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Debug("fail to negotiate the metadata exchange", zap.Error(err))
		return
	}
	defer f.Close()

	info, err := f.Fetch()
	if err != nil {
		logger.Debug("fail to fetch the metadata", zap.Error(err))
		return
	}

	select {
	case d.responses <- Response{
		RequestID: r.id,
		Addr:      r.addr,
		PeerID:    f.PeerID(),
		InfoHash:  r.infohash,
		InfoBytes: f.InfoBytes(),
		Info:      info,
	}:
	case <-d.exit:
	}
}
