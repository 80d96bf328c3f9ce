package control

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/core-tools/hsu-unitd/pkg/errors"
)

// Payload codec: Core Deterministic Encoding out, standard CBOR in. Unknown
// fields are ignored on decode for forward compatibility.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("control: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("control: CBOR decoder initialization failed: " + err.Error())
	}
}

// Call is the payload of a FrameCall frame. Object addresses a unit object
// path (or the manager root), Method the operation on it. Interactive
// permits the policy engine to consult an interactive authorization agent.
type Call struct {
	Object      string          `cbor:"object"`
	Method      string          `cbor:"method"`
	Args        cbor.RawMessage `cbor:"args,omitempty"`
	Interactive bool            `cbor:"interactive,omitempty"`
}

// Reply is the payload of a FrameReply frame.
type Reply struct {
	Result cbor.RawMessage `cbor:"result,omitempty"`
}

// ErrorReply is the payload of a FrameError frame. Code carries the error
// taxonomy name so clients can rebuild a typed error.
type ErrorReply struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

// SignalMessage is the payload of a FrameSignal frame.
type SignalMessage struct {
	Name      string `cbor:"name"`
	Unit      string `cbor:"unit"`
	Path      string `cbor:"path"`
	Interface string `cbor:"interface,omitempty"`
}

func marshalPayload(v interface{}) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode message payload", err)
	}
	return data, nil
}

func unmarshalPayload(data []byte, v interface{}) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return errors.NewInvalidArgumentError("failed to decode message payload", err)
	}
	return nil
}

// errorReplyOf flattens a domain error into its wire form.
func errorReplyOf(err error) ErrorReply {
	if de, ok := err.(*errors.DomainError); ok {
		return ErrorReply{
			Code:    string(de.Type),
			Message: de.Error(),
		}
	}
	return ErrorReply{
		Code:    string(errors.ErrorTypeInternal),
		Message: err.Error(),
	}
}

// errorOf rebuilds a typed domain error from its wire form.
func errorOf(reply ErrorReply) error {
	return errors.NewDomainError(errors.ErrorType(reply.Code), reply.Message, nil)
}
