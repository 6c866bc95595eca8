// Package transceiver is the radio capability the receive and transmit
// pipelines consume. The default implementation moves captured IQ as
// RTP-over-multicast-UDP, using github.com/pion/rtp to unmarshal
// datagrams and golang.org/x/net/ipv4 to join the multicast group, the
// way ka9q-radio distributes channel data.
package transceiver

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/cwsl/sounder/internal/affinity"
	"github.com/cwsl/sounder/internal/ring"
)

// Handle represents one spawned receive-thread goroutine, joinable via
// Wait.
type Handle struct {
	done chan struct{}
}

// Wait blocks until the receive thread this handle names has exited.
func (h Handle) Wait() { <-h.done }

// NewHandle wraps a done channel as a Handle, for alternative
// Transceiver implementations that spawn their own workers.
func NewHandle(done chan struct{}) Handle { return Handle{done: done} }

// AntennaRange is a contiguous, half-open range of global antenna
// indices owned by one receive worker.
type AntennaRange struct {
	Start, End int
}

// Contains reports whether antennaID falls within the range.
func (r AntennaRange) Contains(antennaID int) bool {
	return antennaID >= r.Start && antennaID < r.End
}

// CaptureFunc is the per-worker capture loop, supplied by
// internal/receiver: it blocks on the radio for one captured symbol per
// owned antenna, writes the packet, and returns when ctx is canceled.
type CaptureFunc func(ctx context.Context, workerIdx int, antennas AntennaRange, ring *ring.Ring)

// Transceiver is the Radio Transceiver capability the receive and
// client-beam-sweep pipelines consume.
type Transceiver interface {
	// StartClientThreads starts the transmit-side client threads (beacon
	// and pilot transmission on the client SDRs) and returns their
	// handles.
	StartClientThreads(ctx context.Context) ([]Handle, error)

	// StartRecvThreads starts one receive worker goroutine per ring,
	// each owning antennas[i] and pinned to baseCore+i when core
	// allocation is enabled, running capture until ctx is canceled.
	StartRecvThreads(ctx context.Context, rings []*ring.Ring, antennas []AntennaRange, baseCore int, capture CaptureFunc) ([]Handle, error)

	// CompleteRecvThreads joins every receive worker started by
	// StartRecvThreads.
	CompleteRecvThreads(handles []Handle)

	// Go runs the transmit-only beam-sweep loop used when no uplink or
	// pilot symbols are scheduled; it blocks until ctx is canceled.
	Go(ctx context.Context) error
}

// fnv1Hash matches ka9q-radio's own multicast-address derivation hash.
func fnv1Hash(s string) uint32 {
	h := fnv.New32()
	h.Write([]byte(s))
	return h.Sum32()
}

// deriveMulticastAddr derives a 239.0.0.0/8 multicast IP from a group
// name's FNV-1 hash, the same scheme ka9q-radio's radiod uses to avoid
// MAC-collision ranges.
func deriveMulticastAddr(group string) string {
	h := fnv1Hash(group)
	return fmt.Sprintf("239.%d.%d.%d", (h>>16)&0xff, (h>>8)&0xff, h&0xff)
}

// resolveMulticastAddr resolves addrStr as a UDP address, falling back to
// the FNV-1 hash derivation when it does not already parse as a dotted
// multicast IP.
func resolveMulticastAddr(addrStr string, port int) (*net.UDPAddr, error) {
	if ip := net.ParseIP(addrStr); ip != nil && ip.IsMulticast() {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}
	ip := net.ParseIP(deriveMulticastAddr(addrStr))
	if ip == nil {
		return nil, fmt.Errorf("transceiver: could not derive multicast address for group %q", addrStr)
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

// UDPTransceiver is the default Transceiver: captured IQ arrives as RTP
// packets over a multicast UDP socket.
type UDPTransceiver struct {
	dataAddr *net.UDPAddr
	iface    *net.Interface
	conn     *net.UDPConn

	mu         sync.Mutex
	sessions   map[uint32]chan rtpSample
	routerOnce sync.Once
}

// NewUDPTransceiver resolves dataGroup (by name or literal multicast IP)
// on ifaceName, joins the group, and returns a ready-to-use transceiver.
func NewUDPTransceiver(dataGroup string, port int, ifaceName string) (*UDPTransceiver, error) {
	addr, err := resolveMulticastAddr(dataGroup, port)
	if err != nil {
		return nil, fmt.Errorf("transceiver: resolving data group: %w", err)
	}

	var iface *net.Interface
	if ifaceName != "" {
		iface, err = net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("transceiver: resolving interface %q: %w", ifaceName, err)
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: addr.Port})
	if err != nil {
		return nil, fmt.Errorf("transceiver: listening on port %d: %w", addr.Port, err)
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.JoinGroup(iface, addr); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transceiver: joining multicast group %s: %w", addr.IP, err)
	}

	return &UDPTransceiver{dataAddr: addr, iface: iface, conn: conn}, nil
}

// Close releases the underlying multicast socket.
func (t *UDPTransceiver) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// StartClientThreads is a no-op placeholder in this ingest-only core:
// client (UE) beam transmission is driven by the same waveform-loading
// path as the base station and does not require a dedicated Go thread
// handle here.
func (t *UDPTransceiver) StartClientThreads(ctx context.Context) ([]Handle, error) {
	return nil, nil
}

// StartRecvThreads spawns one goroutine per ring, pinning worker i to
// core baseCore+i when baseCore >= 0, and runs capture until ctx is
// canceled.
func (t *UDPTransceiver) StartRecvThreads(ctx context.Context, rings []*ring.Ring, antennas []AntennaRange, baseCore int, capture CaptureFunc) ([]Handle, error) {
	if len(rings) != len(antennas) {
		return nil, fmt.Errorf("transceiver: rings (%d) and antenna ranges (%d) must have equal length", len(rings), len(antennas))
	}

	handles := make([]Handle, len(rings))
	for i := range rings {
		h := Handle{done: make(chan struct{})}
		handles[i] = h
		go func(workerIdx int, r *ring.Ring, ar AntennaRange) {
			defer close(h.done)
			if baseCore >= 0 {
				affinity.Pin(baseCore + workerIdx)
				defer affinity.Unpin()
			}
			capture(ctx, workerIdx, ar, r)
		}(i, rings[i], antennas[i])
	}
	return handles, nil
}

// CompleteRecvThreads joins every handle.
func (t *UDPTransceiver) CompleteRecvThreads(handles []Handle) {
	for _, h := range handles {
		h.Wait()
	}
}

// Go runs the transmit-only beam-sweep loop. With no transmit hardware
// path to drive here, Go blocks until ctx is canceled; no receive
// workers or queues exist in this mode.
func (t *UDPTransceiver) Go(ctx context.Context) error {
	<-ctx.Done()
	log.Printf("transceiver: beam-sweep loop exiting: %v", ctx.Err())
	return nil
}
