package skywatcher

import (
	"fmt"
	"strconv"
)

const (
	startChar  = ':'
	terminator = '\r'
	okMarker   = '='
	errMarker  = '!'
)

// Axis selects a motor.
type Axis int

const (
	AxisRA Axis = iota
	AxisDec
	AxisBoth
)

func (a Axis) String() string {
	switch a {
	case AxisRA:
		return "ra"
	case AxisDec:
		return "dec"
	case AxisBoth:
		return "both"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

func (a Axis) digit() (byte, error) {
	switch a {
	case AxisRA:
		return '1', nil
	case AxisDec:
		return '2', nil
	}
	return 0, ErrBadAxis
}

// Axes lists the single axes in controller order.
var Axes = [...]Axis{AxisRA, AxisDec}

const hexDigits = "0123456789ABCDEF"

// encodeFrame builds ":<cmd><axis><payload>\r". Params are sent in the
// order given, two hex digits per byte.
func encodeFrame(axis Axis, cmd byte, params []byte) ([]byte, error) {
	if len(params) > 3 {
		return nil, ErrPayloadTooLarge
	}
	d, err := axis.digit()
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 4+2*len(params))
	frame = append(frame, startChar, cmd, d)
	for _, b := range params {
		frame = append(frame, hexDigits[b>>4], hexDigits[b&0xF])
	}
	return append(frame, terminator), nil
}

// uint24 returns v as three bytes, least significant first.
func uint24(v int64) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

// Response is a decoded success response.
type Response struct {
	// Raw holds the payload between the marker and the terminator.
	Raw string
}

// HasValue is false for a bare "=\r".
func (r Response) HasValue() bool { return r.Raw != "" }

// Int decodes the payload. Even-length payloads are bytes sent least
// significant first; one or three nibbles are read in wire order.
func (r Response) Int() (int64, error) {
	s := r.Raw
	switch len(s) {
	case 1, 3:
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrFraming, s)
		}
		return int64(v), nil
	case 2, 4, 6:
		var v int64
		for i := len(s) - 2; i >= 0; i -= 2 {
			b, err := strconv.ParseUint(s[i:i+2], 16, 8)
			if err != nil {
				return 0, fmt.Errorf("%w: %q", ErrFraming, s)
			}
			v = v<<8 | int64(b)
		}
		return v, nil
	}
	return 0, fmt.Errorf("%w: %d nibble payload %q", ErrFraming, len(s), s)
}

// Signed24 decodes a three byte payload as a two's complement value.
func (r Response) Signed24() (int64, error) {
	v, err := r.Int()
	if err != nil {
		return 0, err
	}
	if v&0x800000 != 0 {
		v -= 0x1000000
	}
	return v, nil
}

// Nibbles returns the payload as individual hex digit values.
func (r Response) Nibbles() ([]int, error) {
	out := make([]int, len(r.Raw))
	for i := 0; i < len(r.Raw); i++ {
		v, err := strconv.ParseUint(r.Raw[i:i+1], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrFraming, r.Raw)
		}
		out[i] = int(v)
	}
	return out, nil
}

// decodeResponse parses one terminator-stripped response line.
func decodeResponse(axis Axis, cmd byte, line string) (Response, error) {
	if len(line) == 0 {
		return Response{}, fmt.Errorf("%w: empty response", ErrFraming)
	}
	payload := line[1:]
	for i := 0; i < len(payload); i++ {
		if !isHex(payload[i]) {
			return Response{}, fmt.Errorf("%w: %q", ErrFraming, line)
		}
	}
	switch line[0] {
	case okMarker:
		return Response{Raw: payload}, nil
	case errMarker:
		code := GeneralError
		if payload != "" {
			n, _ := strconv.ParseUint(payload[:1], 16, 8)
			code = decodeErrorCode(int(n))
		}
		return Response{}, &ProtocolError{Axis: axis, Command: cmd, Code: code}
	}
	return Response{}, fmt.Errorf("%w: %q", ErrFraming, line)
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'A' <= c && c <= 'F' || 'a' <= c && c <= 'f'
}
