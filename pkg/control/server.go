package control

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"vawter.tech/stopper"

	"github.com/core-tools/hsu-unitd/pkg/bus"
	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/jobs"
	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/policy"
)

// ServerConfig configures the management socket.
type ServerConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// Server accepts management connections on a Unix socket and runs every
// call on one processing goroutine, so unit state never sees concurrent
// writers. Connection readers only decode frames and queue work; outbound
// frames go through per-connection writer goroutines, so the processing
// goroutine never blocks on a peer's socket.
//
// A call that comes back pending on authorization is parked, keyed by the
// continuation token, and redelivered on the processing goroutine when the
// policy backend resolves. The caller sees exactly one reply either way.
type Server struct {
	config      ServerConfig
	handler     *Handler
	host        Host
	buses       *bus.Set
	resolutions <-chan policy.Resolution
	logger      logging.Logger

	requests   chan request
	connEvents chan connEvent
	parked     map[string]request
	peerSerial uint64
}

type request struct {
	conn   *serverConn
	serial uint64
	call   Call
	caller jobs.Caller
}

type connEvent struct {
	conn  *serverConn
	added bool
}

func NewServer(config ServerConfig, handler *Handler, host Host, buses *bus.Set,
	resolutions <-chan policy.Resolution, logger logging.Logger) *Server {
	return &Server{
		config:      config,
		handler:     handler,
		host:        host,
		buses:       buses,
		resolutions: resolutions,
		logger:      logger,
		requests:    make(chan request, 64),
		connEvents:  make(chan connEvent, 16),
		parked:      make(map[string]request),
	}
}

// Serve listens on the management socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.config.SocketPath)
	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return errors.NewIOError("failed to listen on management socket", err).
			WithContext("path", s.config.SocketPath)
	}

	s.logger.Infof("Management socket listening, path: %s", s.config.SocketPath)

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = listener.Close()
		_ = os.Remove(s.config.SocketPath)
	})

	sctx.Go(func(sctx *stopper.Context) error {
		<-sctx.Stopping()
		_ = listener.Close()
		return nil
	})

	sctx.Go(func(sctx *stopper.Context) error {
		return s.acceptLoop(sctx, listener)
	})

	sctx.Go(func(sctx *stopper.Context) error {
		s.processLoop(sctx)
		return nil
	})

	<-ctx.Done()
	sctx.Stop(5 * time.Second)
	return sctx.Wait()
}

func (s *Server) acceptLoop(sctx *stopper.Context, listener net.Listener) error {
	for {
		netConn, err := listener.Accept()
		if err != nil {
			if sctx.IsStopping() {
				return nil
			}
			return errors.NewIOError("accept on management socket failed", err)
		}

		uc, ok := netConn.(*net.UnixConn)
		if !ok {
			_ = netConn.Close()
			continue
		}

		conn, err := s.newConn(uc)
		if err != nil {
			s.logger.Errorf("Failed to identify management peer: %v", err)
			_ = netConn.Close()
			continue
		}

		s.connEvents <- connEvent{conn: conn, added: true}
		sctx.Go(func(sctx *stopper.Context) error {
			s.readLoop(sctx, conn)
			return nil
		})
	}
}

// newConn derives the peer's credentials from the socket and assigns it a
// unique peer name.
func (s *Server) newConn(uc *net.UnixConn) (*serverConn, error) {
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, err
	}
	if credErr != nil {
		return nil, credErr
	}

	s.peerSerial++
	return newServerConn(uc, fmt.Sprintf(":1.%d", s.peerSerial), int(cred.Uid), int(cred.Pid)), nil
}

func (s *Server) readLoop(sctx *stopper.Context, conn *serverConn) {
	defer func() {
		conn.close()
		s.connEvents <- connEvent{conn: conn, added: false}
	}()

	for {
		f, err := ReadFrame(conn.conn)
		if err != nil {
			if !sctx.IsStopping() {
				s.logger.Debugf("Management peer gone, peer: %s, error: %v", conn.peer, err)
			}
			return
		}
		if f.Kind != FrameCall {
			continue
		}

		var call Call
		if err := unmarshalPayload(f.Payload, &call); err != nil {
			_ = conn.sendError(f.Serial, err)
			continue
		}

		select {
		case s.requests <- request{
			conn:   conn,
			serial: f.Serial,
			call:   call,
			caller: jobs.Caller{
				PeerName:    conn.peer,
				UID:         conn.uid,
				PID:         conn.pid,
				Interactive: call.Interactive,
			},
		}:
		case <-sctx.Stopping():
			return
		}
	}
}

// processLoop is the single owner of all unit state.
func (s *Server) processLoop(sctx *stopper.Context) {
	for {
		select {
		case <-sctx.Stopping():
			return

		case ev := <-s.connEvents:
			if ev.added {
				s.buses.Add(ev.conn)
				s.logger.Infof("Management peer connected, peer: %s, uid: %d, pid: %d",
					ev.conn.peer, ev.conn.uid, ev.conn.pid)
			} else {
				s.buses.Remove(ev.conn.peer)
				s.host.PeerGone(ev.conn.peer)
				s.host.DispatchSignals()
				s.dropParked(ev.conn)
				s.logger.Infof("Management peer disconnected, peer: %s", ev.conn.peer)
			}

		case req := <-s.requests:
			s.dispatch(req)
			s.host.DispatchSignals()

		case res := <-s.resolutions:
			req, ok := s.parked[res.Token]
			if !ok {
				continue
			}
			delete(s.parked, res.Token)
			req.caller.AuthToken = res.Token
			s.dispatch(req)
			s.host.DispatchSignals()
		}
	}
}

// dispatch runs one call. Pending authorization parks the call instead of
// replying; everything else gets exactly one reply or error frame.
func (s *Server) dispatch(req request) {
	result, err := s.handler.Handle(req.caller, req.call)
	if err != nil {
		if errors.IsPendingError(err) {
			if token := pendingToken(err); token != "" {
				s.parked[token] = req
				return
			}
		}
		_ = req.conn.sendError(req.serial, err)
		return
	}
	if err := req.conn.sendReply(req.serial, result); err != nil {
		s.logger.Debugf("Failed to send reply, peer: %s, error: %v", req.conn.peer, err)
	}
}

// dropParked discards calls parked by a peer that went away. The pending
// authorization keeps running; its resolution finds no parked call and is
// discarded in turn.
func (s *Server) dropParked(conn *serverConn) {
	for token, req := range s.parked {
		if req.conn == conn {
			delete(s.parked, token)
		}
	}
}

func pendingToken(err error) string {
	de, ok := err.(*errors.DomainError)
	if !ok {
		return ""
	}
	token, _ := de.Context["token"].(string)
	return token
}

// A peer that stops reading must never stall the processing goroutine, so
// outbound frames never hit the socket directly: writeFrame only enqueues,
// a per-connection writer goroutine drains. The queue is bounded; a peer
// whose queue overflows is disconnected.
const outboundQueueLen = 256

// serverConn is one connected management peer. It implements bus.Conn so
// the signal emitter can broadcast to it.
type serverConn struct {
	conn net.Conn
	peer string
	uid  int
	pid  int

	outbound  chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newServerConn(conn net.Conn, peer string, uid, pid int) *serverConn {
	c := &serverConn{
		conn:     conn,
		peer:     peer,
		uid:      uid,
		pid:      pid,
		outbound: make(chan Frame, outboundQueueLen),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// writeLoop is the only writer on the socket. A failed write tears the
// connection down; closing the socket unblocks a write stuck on a full
// kernel buffer.
func (c *serverConn) writeLoop() {
	for {
		select {
		case f := <-c.outbound:
			if err := WriteFrame(c.conn, f); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// close is safe from any goroutine. Closing the socket unblocks both the
// read loop and any in-flight write.
func (c *serverConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *serverConn) PeerName() string {
	return c.peer
}

func (c *serverConn) SendSignal(sig bus.Signal) error {
	payload, err := marshalPayload(SignalMessage{
		Name:      sig.Name,
		Unit:      sig.Unit,
		Path:      sig.Path,
		Interface: sig.Interface,
	})
	if err != nil {
		return err
	}
	return c.writeFrame(Frame{Kind: FrameSignal, Payload: payload})
}

func (c *serverConn) sendReply(serial uint64, result interface{}) error {
	var raw []byte
	if result != nil {
		var err error
		raw, err = marshalPayload(result)
		if err != nil {
			return c.sendError(serial, err)
		}
	}
	payload, err := marshalPayload(Reply{Result: raw})
	if err != nil {
		return err
	}
	return c.writeFrame(Frame{Kind: FrameReply, Serial: serial, Payload: payload})
}

func (c *serverConn) sendError(serial uint64, callErr error) error {
	payload, err := marshalPayload(errorReplyOf(callErr))
	if err != nil {
		return err
	}
	return c.writeFrame(Frame{Kind: FrameError, Serial: serial, Payload: payload})
}

func (c *serverConn) writeFrame(f Frame) error {
	select {
	case <-c.done:
		return errors.NewIOError("management peer connection closed", nil).
			WithContext("peer", c.peer)
	default:
	}
	select {
	case c.outbound <- f:
		return nil
	default:
	}
	// The peer stopped draining its socket.
	c.close()
	return errors.NewIOError("management peer not reading, dropping connection", nil).
		WithContext("peer", c.peer)
}
