package properties

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/core-tools/hsu-unitd/pkg/errors"
)

// Property values travel as self-describing CBOR variants. The decoder
// accepts standard CBOR; unknown struct fields are ignored for forward
// compatibility.
var decMode cbor.DecMode

// encMode mirrors the transport's deterministic encoding; used by clients
// building entries.
var encMode cbor.EncMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("properties: CBOR decoder initialization failed: " + err.Error())
	}
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("properties: CBOR encoder initialization failed: " + err.Error())
	}
}

// NewEntry builds a property entry from a Go value, encoding it the way the
// engine's handlers expect.
func NewEntry(name string, value interface{}) (Entry, error) {
	raw, err := encMode.Marshal(value)
	if err != nil {
		return Entry{}, errors.NewInvalidArgumentError("failed to encode value for property "+name, err).
			WithContext("property", name)
	}
	return Entry{Name: name, Value: raw}, nil
}

func decodeValue(name string, raw cbor.RawMessage, out interface{}) error {
	if err := decMode.Unmarshal(raw, out); err != nil {
		return errors.NewInvalidArgumentError("failed to decode value for property "+name, err).
			WithContext("property", name)
	}
	return nil
}

func decodeString(name string, raw cbor.RawMessage) (string, error) {
	var s string
	if err := decodeValue(name, raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

func decodeBool(name string, raw cbor.RawMessage) (bool, error) {
	var b bool
	if err := decodeValue(name, raw, &b); err != nil {
		return false, err
	}
	return b, nil
}

func decodeUint64(name string, raw cbor.RawMessage) (uint64, error) {
	var v uint64
	if err := decodeValue(name, raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func decodeUint32(name string, raw cbor.RawMessage) (uint32, error) {
	var v uint32
	if err := decodeValue(name, raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func decodeStringList(name string, raw cbor.RawMessage) ([]string, error) {
	var l []string
	if err := decodeValue(name, raw, &l); err != nil {
		return nil, err
	}
	return l, nil
}

// conditionTuple is the wire form of one condition entry, encoded as a
// 4-element CBOR array.
type conditionTuple struct {
	_         struct{} `cbor:",toarray"`
	Type      string
	Trigger   bool
	Negate    bool
	Parameter string
}

func decodeConditionTuples(name string, raw cbor.RawMessage) ([]conditionTuple, error) {
	var l []conditionTuple
	if err := decodeValue(name, raw, &l); err != nil {
		return nil, err
	}
	return l, nil
}
