package link

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrEmpty is returned for a datagram with no tag byte.
var ErrEmpty = errors.New("empty datagram")

// Encode returns the datagram for m.
func Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case ControlInput:
		return appendControlInput([]byte{byte(TagControlInput)}, m), nil
	case EmergencyStop:
		return []byte{byte(TagEmergencyStop)}, nil
	case ModeCommand:
		if m.Mode == ModeNavigation && len(m.Path) > 0 {
			b := []byte{byte(TagPath)}
			for _, v := range m.Path {
				b = protowire.AppendTag(b, 1, protowire.BytesType)
				b = protowire.AppendBytes(b, appendVector3(nil, v))
			}
			return b, nil
		}
		b := []byte{byte(TagModeCommand)}
		if m.Mode != ModeUnknown {
			b = protowire.AppendTag(b, 1, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(int64(m.Mode)))
		}
		return b, nil
	default:
		return nil, errors.Errorf("cannot encode %T", m)
	}
}

// Decode parses one datagram. Unknown fields are skipped.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrEmpty
	}
	tag, body := Tag(b[0]), b[1:]
	switch tag {
	case TagControlInput:
		return decodeControlInput(body)
	case TagEmergencyStop:
		return EmergencyStop{}, nil
	case TagModeCommand:
		var c ModeCommand
		err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num == 1 && typ == protowire.VarintType {
				v, n := protowire.ConsumeVarint(b)
				c.Mode = ModeID(int32(v))
				return n, nil
			}
			return skip, nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "error decoding mode command")
		}
		if c.Mode < ModeShutdown || c.Mode > ModeNavigation {
			return nil, errors.Errorf("unknown mode %v", c.Mode)
		}
		return c, nil
	case TagPath:
		c := ModeCommand{Mode: ModeNavigation}
		err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num == 1 && typ == protowire.BytesType {
				v, n := protowire.ConsumeBytes(b)
				if n < 0 {
					return n, nil
				}
				w, err := decodeVector3(v)
				c.Path = append(c.Path, w)
				return n, err
			}
			return skip, nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "error decoding path")
		}
		return c, nil
	default:
		return nil, errors.Errorf("unknown datagram tag %d", tag)
	}
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendVector3(b []byte, v Vector3) []byte {
	b = appendFloat(b, 1, v.X)
	b = appendFloat(b, 2, v.Y)
	return appendFloat(b, 3, v.Z)
}

func appendControlInput(b []byte, c ControlInput) []byte {
	b = appendInt32(b, 1, c.ID)
	b = appendInt32(b, 2, c.Time)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, appendVector3(nil, c.Orientation))
	b = appendFloat(b, 4, c.VerticalVelocity)
	return appendFloat(b, 5, c.YawVelocity)
}

// skip tells consumeFields to skip the field value.
const skip = 0

// consumeFields walks the fields of a message. f consumes the value of a
// field it knows and returns its length, or skip.
func consumeFields(b []byte, f func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := f(num, typ, b)
		if err != nil {
			return err
		}
		if m == skip {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func consumeFloat(typ protowire.Type, b []byte, v *float32) int {
	if typ != protowire.Fixed32Type {
		return skip
	}
	x, n := protowire.ConsumeFixed32(b)
	*v = math.Float32frombits(x)
	return n
}

func decodeVector3(b []byte) (Vector3, error) {
	var v Vector3
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeFloat(typ, b, &v.X), nil
		case 2:
			return consumeFloat(typ, b, &v.Y), nil
		case 3:
			return consumeFloat(typ, b, &v.Z), nil
		}
		return skip, nil
	})
	return v, err
}

func decodeControlInput(b []byte) (ControlInput, error) {
	var c ControlInput
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case (num == 1 || num == 2) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if num == 1 {
				c.ID = int32(v)
			} else {
				c.Time = int32(v)
			}
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			o, err := decodeVector3(v)
			c.Orientation = o
			return n, err
		case num == 4:
			return consumeFloat(typ, b, &c.VerticalVelocity), nil
		case num == 5:
			return consumeFloat(typ, b, &c.YawVelocity), nil
		}
		return skip, nil
	})
	if err != nil {
		return c, errors.Wrap(err, "error decoding control input")
	}
	return c, nil
}
