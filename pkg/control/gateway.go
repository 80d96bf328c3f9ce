package control

import (
	"net"
	"sync"

	"github.com/core-tools/hsu-unitd/pkg/cgroups"
	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/properties"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// ClientGateway is the operator-side connection to the management socket.
// Calls are synchronous; signals arrive on the Signals channel as long as
// someone drains it (undrained signals are dropped, not buffered without
// bound).
type ClientGateway struct {
	conn    net.Conn
	logger  logging.Logger
	signals chan SignalMessage

	mutex   sync.Mutex
	serial  uint64
	waiters map[uint64]chan Frame
	closed  bool
}

func NewClientGateway(socketPath string, logger logging.Logger) (*ClientGateway, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, errors.NewIOError("failed to connect to management socket", err).
			WithContext("path", socketPath)
	}

	gw := &ClientGateway{
		conn:    conn,
		logger:  logger,
		signals: make(chan SignalMessage, 32),
		waiters: make(map[uint64]chan Frame),
	}
	go gw.readLoop()
	return gw, nil
}

func (gw *ClientGateway) Close() error {
	gw.mutex.Lock()
	gw.closed = true
	gw.mutex.Unlock()
	return gw.conn.Close()
}

// Signals delivers lifecycle notifications broadcast by the daemon.
func (gw *ClientGateway) Signals() <-chan SignalMessage {
	return gw.signals
}

func (gw *ClientGateway) readLoop() {
	for {
		f, err := ReadFrame(gw.conn)
		if err != nil {
			gw.mutex.Lock()
			closed := gw.closed
			for serial, ch := range gw.waiters {
				close(ch)
				delete(gw.waiters, serial)
			}
			gw.mutex.Unlock()
			close(gw.signals)
			if !closed {
				gw.logger.Errorf("Management connection lost: %v", err)
			}
			return
		}

		switch f.Kind {
		case FrameSignal:
			var sig SignalMessage
			if err := unmarshalPayload(f.Payload, &sig); err != nil {
				gw.logger.Debugf("Malformed signal frame: %v", err)
				continue
			}
			select {
			case gw.signals <- sig:
			default:
			}

		case FrameReply, FrameError:
			gw.mutex.Lock()
			ch := gw.waiters[f.Serial]
			delete(gw.waiters, f.Serial)
			gw.mutex.Unlock()
			if ch != nil {
				ch <- f
			}
		}
	}
}

// call issues one method call and decodes the reply into out (which may be
// nil for methods without a result).
func (gw *ClientGateway) call(object, method string, args interface{}, interactive bool, out interface{}) error {
	var rawArgs []byte
	if args != nil {
		var err error
		rawArgs, err = marshalPayload(args)
		if err != nil {
			return err
		}
	}
	payload, err := marshalPayload(Call{
		Object:      object,
		Method:      method,
		Args:        rawArgs,
		Interactive: interactive,
	})
	if err != nil {
		return err
	}

	gw.mutex.Lock()
	if gw.closed {
		gw.mutex.Unlock()
		return errors.NewIOError("management connection is closed", nil)
	}
	gw.serial++
	serial := gw.serial
	ch := make(chan Frame, 1)
	gw.waiters[serial] = ch
	gw.mutex.Unlock()

	if err := WriteFrame(gw.conn, Frame{Kind: FrameCall, Serial: serial, Payload: payload}); err != nil {
		gw.mutex.Lock()
		delete(gw.waiters, serial)
		gw.mutex.Unlock()
		return errors.NewIOError("failed to send management call", err)
	}

	f, ok := <-ch
	if !ok {
		return errors.NewIOError("management connection closed mid-call", nil)
	}

	if f.Kind == FrameError {
		var reply ErrorReply
		if err := unmarshalPayload(f.Payload, &reply); err != nil {
			return err
		}
		return errorOf(reply)
	}

	if out == nil {
		return nil
	}
	var reply Reply
	if err := unmarshalPayload(f.Payload, &reply); err != nil {
		return err
	}
	if reply.Result == nil {
		return errors.NewInternalError("empty reply for method "+method, nil)
	}
	return unmarshalPayload(reply.Result, out)
}

// QueueJob queues a lifecycle job of the given verb (Start, Stop, Reload,
// Restart, TryRestart, ReloadOrRestart, ReloadOrTryRestart) and returns the
// created job reference.
func (gw *ClientGateway) QueueJob(unitName, verb, mode string, interactive bool) (JobReply, error) {
	var job JobReply
	err := gw.call(unit.ObjectPathFor(unitName), verb, modeArgs{Mode: mode}, interactive, &job)
	if err != nil {
		gw.logger.Errorf("%s client gateway: %v", verb, err)
		return JobReply{}, err
	}
	gw.logger.Debugf("%s client gateway done, unit: %s, job: %d", verb, unitName, job.ID)
	return job, nil
}

func (gw *ClientGateway) Kill(unitName, who string, signal int32, interactive bool) error {
	err := gw.call(unit.ObjectPathFor(unitName), "Kill", killArgs{Who: who, Signal: signal}, interactive, nil)
	if err != nil {
		gw.logger.Errorf("Kill client gateway: %v", err)
		return err
	}
	gw.logger.Debugf("Kill client gateway done, unit: %s", unitName)
	return nil
}

func (gw *ClientGateway) ResetFailed(unitName string) error {
	return gw.call(unit.ObjectPathFor(unitName), "ResetFailed", nil, false, nil)
}

func (gw *ClientGateway) SetProperties(unitName string, runtime bool, entries []properties.Entry, interactive bool) error {
	err := gw.call(unit.ObjectPathFor(unitName), "SetProperties",
		setPropertiesArgs{Runtime: runtime, Entries: entries}, interactive, nil)
	if err != nil {
		gw.logger.Errorf("SetProperties client gateway: %v", err)
		return err
	}
	return nil
}

func (gw *ClientGateway) Ref(unitName string, interactive bool) error {
	return gw.call(unit.ObjectPathFor(unitName), "Ref", nil, interactive, nil)
}

func (gw *ClientGateway) Unref(unitName string) error {
	return gw.call(unit.ObjectPathFor(unitName), "Unref", nil, false, nil)
}

func (gw *ClientGateway) GetProcesses(unitName string) ([]cgroups.Process, error) {
	var procs []cgroups.Process
	if err := gw.call(unit.ObjectPathFor(unitName), "GetProcesses", nil, false, &procs); err != nil {
		gw.logger.Errorf("GetProcesses client gateway: %v", err)
		return nil, err
	}
	return procs, nil
}

func (gw *ClientGateway) AttachProcesses(unitName, subpath string, pids []uint32) error {
	return gw.call(unit.ObjectPathFor(unitName), "AttachProcesses",
		attachArgs{Subpath: subpath, PIDs: pids}, false, nil)
}

func (gw *ClientGateway) GetProperties(unitName string) (map[string]interface{}, error) {
	var props map[string]interface{}
	if err := gw.call(unit.ObjectPathFor(unitName), "GetProperties", nil, false, &props); err != nil {
		gw.logger.Errorf("GetProperties client gateway: %v", err)
		return nil, err
	}
	return props, nil
}
