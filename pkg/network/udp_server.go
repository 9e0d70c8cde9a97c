package network

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// inboxSize bounds packets buffered between two communicate cycles.
const inboxSize = 1024

// ErrPacketTooLarge is returned when a frame exceeds the configured packet size.
var ErrPacketTooLarge = errors.New("packet exceeds maximum size")

// TargetSource supplies unicast destinations; when it returns none the
// server falls back to broadcast.
type TargetSource interface {
	Targets() []*net.UDPAddr
}

// UDPServer sends and receives robot frames over UDP. A reader goroutine
// queues inbound packets; Receive hands them over without blocking.
// Repeated datagrams are delivered every time: supervisors resend fixed
// command and go-ahead frames.
type UDPServer struct {
	conn        *net.UDPConn
	robotID     int
	port        int
	broadcastIP net.IP
	packetSize  int
	targets     TargetSource

	inbox chan []byte

	running bool
	mutex   sync.RWMutex

	sent     int64
	received int64
	overflow int64
	oversize int64
}

// NewUDPServer validates the broadcast address and packet size. The socket
// is opened by Start.
func NewUDPServer(robotID, port int, broadcastIP string, packetSize int) (*UDPServer, error) {
	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return nil, errors.Errorf("invalid broadcast address %q", broadcastIP)
	}
	if packetSize <= 0 {
		return nil, errors.Errorf("packet size must be positive, got %d", packetSize)
	}
	return &UDPServer{
		robotID:     robotID,
		port:        port,
		broadcastIP: ip,
		packetSize:  packetSize,
		inbox:       make(chan []byte, inboxSize),
	}, nil
}

// SetTargets routes outgoing frames to explicit peers instead of broadcast.
func (s *UDPServer) SetTargets(t TargetSource) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.targets = t
}

// Start binds the UDP port and starts the reader goroutine.
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return errors.Wrap(err, "resolve UDP address")
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return errors.Wrap(err, "listen UDP")
	}

	s.mutex.Lock()
	s.conn = conn
	s.running = true
	s.mutex.Unlock()

	log.Printf("[UDP] Robot %d listening on port %d", s.robotID, s.port)
	go s.readLoop(conn)
	return nil
}

// Stop closes the socket, which ends the reader goroutine.
func (s *UDPServer) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.running = false
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *UDPServer) isRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// readLoop queues every packet until the socket is closed.
func (s *UDPServer) readLoop(conn *net.UDPConn) {
	buffer := make([]byte, s.packetSize+1)

	for {
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if s.isRunning() {
				log.Printf("[UDP] Error reading packet: %v", err)
				continue
			}
			return
		}
		if n > s.packetSize {
			s.count(&s.oversize)
			continue
		}

		packet := make([]byte, n)
		copy(packet, buffer[:n])

		select {
		case s.inbox <- packet:
			s.count(&s.received)
		default:
			s.count(&s.overflow)
		}
	}
}

func (s *UDPServer) count(c *int64) {
	s.mutex.Lock()
	*c++
	s.mutex.Unlock()
}

// Receive returns the next queued packet, or false when none is pending.
func (s *UDPServer) Receive() ([]byte, bool) {
	select {
	case p := <-s.inbox:
		return p, true
	default:
		return nil, false
	}
}

// SendPacket sends one packet to addr.
func (s *UDPServer) SendPacket(data []byte, addr *net.UDPAddr) error {
	s.mutex.RLock()
	conn := s.conn
	s.mutex.RUnlock()

	if conn == nil {
		return errors.New("UDP server not started")
	}
	if len(data) > s.packetSize {
		return errors.Wrapf(ErrPacketTooLarge, "%d > %d bytes", len(data), s.packetSize)
	}
	if _, err := conn.WriteToUDP(data, addr); err != nil {
		return errors.Wrapf(err, "send to %s", addr)
	}
	s.count(&s.sent)
	return nil
}

// Broadcast sends data to every target, or to the broadcast address when
// there are none.
func (s *UDPServer) Broadcast(data []byte) error {
	s.mutex.RLock()
	source := s.targets
	s.mutex.RUnlock()

	var targets []*net.UDPAddr
	if source != nil {
		targets = source.Targets()
	}
	if len(targets) == 0 {
		return s.SendPacket(data, &net.UDPAddr{IP: s.broadcastIP, Port: s.port})
	}

	var firstErr error
	for _, addr := range targets {
		if err := s.SendPacket(data, addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LocalAddr returns the bound address, nil before Start.
func (s *UDPServer) LocalAddr() *net.UDPAddr {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// GetStats returns socket counters for the status endpoint.
func (s *UDPServer) GetStats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return map[string]interface{}{
		"udp_port":    s.port,
		"running":     s.running,
		"robot_id":    s.robotID,
		"packet_size": s.packetSize,
		"sent":        s.sent,
		"received":    s.received,
		"overflow":    s.overflow,
		"oversize":    s.oversize,
		"pending":     len(s.inbox),
	}
}
