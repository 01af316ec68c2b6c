package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"

	"github.com/camerarecorder/streamrecorder/internal/logging"
)

// Source is the ingestion-side abstraction a Pipeline drives. It is kept
// narrow so the pipeline state machine and branching point have no direct
// dependency on the RTSP client library.
type Source interface {
	// Connect negotiates the session and begins delivering access units to
	// onAccessUnit. It must not return until playback has actually started
	// (or negotiation has definitively failed).
	Connect(onAccessUnit func(AccessUnit), onError func(error)) error
	// Close tears down the session. Safe to call more than once.
	Close() error
}

// rtspSource is a Source backed by gortsplib, following the client-setup
// shape used throughout the gortsplib example ecosystem: Start, Describe,
// FindFormat, CreateDecoder, Setup, OnPacketRTP, Play.
type rtspSource struct {
	url    string
	logger *logging.Logger

	mu     sync.Mutex
	client *gortsplib.Client
	closed bool
}

// NewRTSPSource builds a Source that reads H.264 over RTSP from rawURL.
func NewRTSPSource(rawURL string, logger *logging.Logger) (Source, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("rtsp source: empty url")
	}
	return &rtspSource{url: rawURL, logger: logger}, nil
}

func (s *rtspSource) Connect(onAccessUnit func(AccessUnit), onError func(error)) error {
	u, err := base.ParseURL(s.url)
	if err != nil {
		return fmt.Errorf("rtsp source: parse url: %w", err)
	}

	client := &gortsplib.Client{}
	client.OnPacketLost = func(err error) {
		s.logger.WithError(err).Debug("rtp packet lost")
	}
	client.OnDecodeError = func(err error) {
		s.logger.WithError(err).Debug("rtp decode error")
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("rtsp source: start: %w", err)
	}

	ok := false
	defer func() {
		if !ok {
			client.Close()
		}
	}()

	desc, _, err := client.Describe(u)
	if err != nil {
		return fmt.Errorf("rtsp source: describe: %w", err)
	}

	var h264Format *format.H264
	media := desc.FindFormat(&h264Format)
	if media == nil {
		return fmt.Errorf("rtsp source: no H264 media found in %q", s.url)
	}

	rtpDec, err := h264Format.CreateDecoder()
	if err != nil {
		return fmt.Errorf("rtsp source: create h264 decoder: %w", err)
	}

	sps := h264Format.SPS
	pps := h264Format.PPS

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		return fmt.Errorf("rtsp source: setup: %w", err)
	}

	client.OnPacketRTP(media, h264Format, func(pkt *rtp.Packet) {
		nalus, err := rtpDec.Decode(pkt)
		if err != nil {
			return
		}
		pts, ok := client.PacketPTS(media, pkt)
		if !ok {
			return
		}
		au := AccessUnit{PTS: pts}
		for _, n := range nalus {
			au.NALUs = append(au.NALUs, NALU(n))
		}
		au = sealAccessUnit(au, sps, pps)
		onAccessUnit(au)
	})

	if _, err := client.Play(nil); err != nil {
		return fmt.Errorf("rtsp source: play: %w", err)
	}

	client.OnTransportSwitch = func(err error) {
		s.logger.WithError(err).Debug("rtp transport switch")
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	ok = true

	go s.watch(client, u, onError)

	return nil
}

// watch polls the session with OPTIONS requests, the same liveness check
// used by gortsplib-based camera clients to detect a server that has gone
// away without a clean teardown, and reports it as a pipeline error.
func (s *rtspSource) watch(client *gortsplib.Client, u *base.URL, onError func(error)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		res, err := client.Options(u)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("rtsp source: session lost: %w", err))
			}
			return
		}
		if res.StatusCode != base.StatusOK {
			if onError != nil {
				onError(fmt.Errorf("rtsp source: server returned status %d", res.StatusCode))
			}
			return
		}
	}
}

func (s *rtspSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
