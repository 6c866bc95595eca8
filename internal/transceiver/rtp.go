package transceiver

import (
	"context"
	"fmt"
	"log"

	"github.com/pion/rtp"
)

// rtpSample is one routed RTP payload, copied out of the shared read
// buffer before handoff; the next Unmarshal call reuses that buffer.
type rtpSample struct {
	payload   []byte
	timestamp uint32
}

// channelFor returns (creating if necessary) the per-antenna routed
// channel for ssrc, and starts the shared demux router on first use.
func (t *UDPTransceiver) channelFor(ssrc uint32) chan rtpSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions == nil {
		t.sessions = make(map[uint32]chan rtpSample)
	}
	ch, ok := t.sessions[ssrc]
	if !ok {
		ch = make(chan rtpSample, 4)
		t.sessions[ssrc] = ch
	}
	t.startRouterOnce()
	return ch
}

func (t *UDPTransceiver) startRouterOnce() {
	t.routerOnce.Do(func() {
		go t.routeLoop()
	})
}

// routeLoop is the shared socket reader: one goroutine reads every
// datagram and demultiplexes by RTP SSRC to each antenna's channel.
func (t *UDPTransceiver) routeLoop() {
	buf := make([]byte, 65536)
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("transceiver: multicast read error, stopping router: %v", err)
			return
		}
		if n < 12 {
			continue // too short to be a valid RTP packet
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			log.Printf("transceiver: dropping malformed RTP packet: %v", err)
			continue
		}

		payloadCopy := make([]byte, len(packet.Payload))
		copy(payloadCopy, packet.Payload)

		t.mu.Lock()
		ch, ok := t.sessions[packet.SSRC]
		t.mu.Unlock()
		if !ok {
			continue // no receive worker currently owns this antenna
		}

		select {
		case ch <- rtpSample{payload: payloadCopy, timestamp: packet.Timestamp}:
		default:
			log.Printf("transceiver: antenna %d sample dropped, consumer not keeping up", packet.SSRC)
		}
	}
}

// ReadSymbol blocks until one captured IQ payload for antennaID arrives,
// or ctx is canceled. It is the radio-read suspension point of
// internal/receiver's capture loop.
func (t *UDPTransceiver) ReadSymbol(ctx context.Context, antennaID int) ([]byte, uint32, error) {
	if antennaID < 0 {
		return nil, 0, fmt.Errorf("transceiver: invalid antenna id %d", antennaID)
	}
	ch := t.channelFor(uint32(antennaID))
	select {
	case s := <-ch:
		return s.payload, s.timestamp, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}
