package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// StringPolicy selects what Encode does with a string longer than its buffer.
type StringPolicy int

const (
	// Truncate cuts the string to fit, on a UTF-8 boundary. This is the wire default.
	Truncate StringPolicy = iota
	// Reject fails the encode with ErrFieldTooLong.
	Reject
)

var (
	// ErrFieldTooLong indicates a string field does not fit its fixed buffer under Reject.
	ErrFieldTooLong = errors.New("protocol: field too long")

	// ErrUnknownOperation indicates a datagram whose tag is not in the catalogue.
	ErrUnknownOperation = errors.New("protocol: unknown operation type")

	// ErrSize indicates a datagram whose length does not match its tag's layout.
	ErrSize = errors.New("protocol: datagram size mismatch")
)

// Size returns the encoded size of a message of type t including its tag, or 0 if unknown.
func Size(t OperationType) int {
	switch t {
	case OperationTypeGrabbableStateChanged:
		return 1 + 8 + 1 + 1 + 8
	case OperationTypeConnectConsoleUserServer:
		return 1 + 4
	case OperationTypeSystemPreferencesUpdated:
		return 1 + 1 + 1 + 4
	case OperationTypeFrontmostApplicationChanged:
		return 1 + BundleIdentifierSize + FilePathSize
	case OperationTypeInputSourceChanged:
		return 1 + 3*InputSourceFieldSize
	default:
		return 0
	}
}

// Encode serializes m with the Truncate policy.
func Encode(m Message) ([]byte, error) {
	return EncodeWithPolicy(m, Truncate)
}

// EncodeWithPolicy serializes m as its tag followed by little-endian fixed-width fields.
func EncodeWithPolicy(m Message, policy StringPolicy) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("encode: %w: nil message", ErrUnknownOperation)
	}

	t := m.OperationType()
	b := make([]byte, 0, Size(t))
	b = append(b, byte(t))

	b, err := m.appendFields(b, policy)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return b, nil
}

func (m GrabbableStateChanged) appendFields(b []byte, _ StringPolicy) ([]byte, error) {
	v := m.GrabbableState
	b = binary.LittleEndian.AppendUint64(b, v.RegistryEntryID)
	b = append(b, byte(v.State), byte(v.Reason))
	b = binary.LittleEndian.AppendUint64(b, v.TimeStamp)
	return b, nil
}

func (m ConnectConsoleUserServer) appendFields(b []byte, _ StringPolicy) ([]byte, error) {
	return binary.LittleEndian.AppendUint32(b, uint32(m.PID)), nil
}

func (m SystemPreferencesUpdated) appendFields(b []byte, _ StringPolicy) ([]byte, error) {
	v := m.SystemPreferences
	b = append(b, boolByte(v.KeyboardFnState), boolByte(v.SwipeScrollDirection))
	return binary.LittleEndian.AppendUint32(b, v.KeyboardType), nil
}

func (m FrontmostApplicationChanged) appendFields(b []byte, policy StringPolicy) ([]byte, error) {
	b, err := appendCString(b, "bundle_identifier", m.BundleIdentifier, BundleIdentifierSize, policy)
	if err != nil {
		return nil, err
	}
	return appendCString(b, "file_path", m.FilePath, FilePathSize, policy)
}

func (m InputSourceChanged) appendFields(b []byte, policy StringPolicy) ([]byte, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"language", m.Language},
		{"input_source_id", m.InputSourceID},
		{"input_mode_id", m.InputModeID},
	}

	var err error
	for _, f := range fields {
		if b, err = appendCString(b, f.name, f.value, InputSourceFieldSize, policy); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// appendCString writes s into a zeroed size-byte buffer, always leaving room for a NUL.
func appendCString(b []byte, field, s string, size int, policy StringPolicy) ([]byte, error) {
	limit := size - 1
	if len(s) > limit {
		if policy == Reject {
			return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFieldTooLong, field, len(s), limit)
		}
		n := limit
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}

	start := len(b)
	b = append(b, make([]byte, size)...)
	copy(b[start:start+limit], s)
	return b, nil
}

// Decode parses a datagram produced by Encode.
func Decode(p []byte) (Message, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("decode: %w: empty datagram", ErrSize)
	}

	t := OperationType(p[0])
	want := Size(t)
	if want == 0 {
		return nil, fmt.Errorf("decode: %w: %d", ErrUnknownOperation, p[0])
	}
	if len(p) != want {
		return nil, fmt.Errorf("decode %s: %w: got %d bytes, want %d", t, ErrSize, len(p), want)
	}

	body := p[1:]
	switch t {
	case OperationTypeGrabbableStateChanged:
		return GrabbableStateChanged{GrabbableState: GrabbableStateValue{
			RegistryEntryID: binary.LittleEndian.Uint64(body[0:8]),
			State:           GrabbableState(body[8]),
			Reason:          UngrabbableTemporarilyReason(body[9]),
			TimeStamp:       binary.LittleEndian.Uint64(body[10:18]),
		}}, nil
	case OperationTypeConnectConsoleUserServer:
		return ConnectConsoleUserServer{PID: int32(binary.LittleEndian.Uint32(body[0:4]))}, nil
	case OperationTypeSystemPreferencesUpdated:
		return SystemPreferencesUpdated{SystemPreferences: SystemPreferences{
			KeyboardFnState:      body[0] != 0,
			SwipeScrollDirection: body[1] != 0,
			KeyboardType:         binary.LittleEndian.Uint32(body[2:6]),
		}}, nil
	case OperationTypeFrontmostApplicationChanged:
		return FrontmostApplicationChanged{
			BundleIdentifier: cString(body[:BundleIdentifierSize]),
			FilePath:         cString(body[BundleIdentifierSize:]),
		}, nil
	default:
		return InputSourceChanged{
			Language:      cString(body[0:InputSourceFieldSize]),
			InputSourceID: cString(body[InputSourceFieldSize : 2*InputSourceFieldSize]),
			InputModeID:   cString(body[2*InputSourceFieldSize:]),
		}, nil
	}
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
