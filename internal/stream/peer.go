package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"

	"github.com/your-org/visionguard/internal/config"
)

// pliInterval is how often a picture loss indication is sent to the
// browser. The VP8 decoder only reconstructs keyframes, so regular PLIs
// keep the pipeline fed.
const pliInterval = 2 * time.Second

const sampleBuilderMaxLate = 64

// disconnectedGrace is how long a disconnected peer may linger before
// teardown. ICE flaps through disconnected on network blips and usually
// recovers; only failed/closed are terminal on their own.
const disconnectedGrace = 10 * time.Second

// Peer owns one inbound WebRTC connection. Decoded frames flow into the
// processor; connection failure triggers onClosed exactly once.
type Peer struct {
	pc        *webrtc.PeerConnection
	processor *Processor
	decoder   FrameDecoder
	onClosed  func()
	closed    chan struct{}
	grace     time.Duration

	mu         sync.Mutex
	graceTimer *time.Timer
}

func NewPeer(cfg config.WebRTCConfig, processor *Processor, decoder FrameDecoder, onClosed func()) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: cfg.STUNServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add video transceiver: %w", err)
	}

	p := &Peer{
		pc:        pc,
		processor: processor,
		decoder:   decoder,
		onClosed:  onClosed,
		closed:    make(chan struct{}),
		grace:     disconnectedGrace,
	}

	pc.OnTrack(p.handleTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		slog.Info("peer connection state", "stream_id", processor.ID, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.cancelGrace()
			p.teardown()
		case webrtc.PeerConnectionStateDisconnected:
			p.startGrace()
		case webrtc.PeerConnectionStateConnected:
			p.cancelGrace()
		}
	})

	return p, nil
}

// HandleOffer applies the browser's SDP offer and returns the answer after
// ICE gathering completes, or fails when ctx expires first.
func (p *Peer) HandleOffer(ctx context.Context, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherDone := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherDone:
	case <-ctx.Done():
		return "", fmt.Errorf("ice gathering: %w", ctx.Err())
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("no local description after gathering")
	}
	return local.SDP, nil
}

// Close tears the connection down. Idempotent.
func (p *Peer) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	_ = p.pc.Close()
}

// startGrace arms the disconnect timer. A peer that reconnects before it
// fires survives; one that stays disconnected is torn down.
func (p *Peer) startGrace() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.graceTimer != nil {
		return
	}
	p.graceTimer = time.AfterFunc(p.grace, p.teardown)
}

func (p *Peer) cancelGrace() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}
}

func (p *Peer) teardown() {
	select {
	case <-p.closed:
		return
	default:
		close(p.closed)
	}
	if p.onClosed != nil {
		p.onClosed()
	}
}

func (p *Peer) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	slog.Info("video track attached", "stream_id", p.processor.ID,
		"codec", track.Codec().MimeType, "ssrc", track.SSRC())

	go p.sendPLIs(track)

	builder := samplebuilder.New(sampleBuilderMaxLate, &codecs.VP8Packet{}, track.Codec().ClockRate)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("read rtp", "stream_id", p.processor.ID, "error", err)
			}
			return
		}

		builder.Push(pkt)
		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			img, err := p.decoder.Decode(sample.Data)
			if err != nil {
				if !errors.Is(err, ErrNotKeyframe) {
					slog.Debug("decode sample", "stream_id", p.processor.ID, "error", err)
				}
				continue
			}
			p.processor.Submit(img)
		}
	}
}

func (p *Peer) sendPLIs(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			err := p.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
			if err != nil {
				return
			}
		}
	}
}
