// Package encoding packs input sequences into a short text form for logs and
// the index.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"tickpilot.dev/internal/sim/state"
)

const (
	bitUp = 1 << iota
	bitDown
	bitLeft
	bitRight
)

func mask(in state.Input) uint64 {
	var m uint64
	if in.Up {
		m |= bitUp
	}
	if in.Down {
		m |= bitDown
	}
	if in.Left {
		m |= bitLeft
	}
	if in.Right {
		m |= bitRight
	}
	return m
}

func unmask(m uint64) state.Input {
	return state.Input{Up: m&bitUp != 0, Down: m&bitDown != 0, Left: m&bitLeft != 0, Right: m&bitRight != 0}
}

// EncodeInputs encodes inputs as base64(varint pairs) of (key mask, run length).
func EncodeInputs(inputs []state.Input) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(inputs) {
		in := inputs[i]
		run := 1
		for j := i + 1; j < len(inputs) && inputs[j] == in; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], mask(in))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeInputs(b64 string) ([]state.Input, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []state.Input
	for i := 0; i < len(raw); {
		m, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if m > bitUp|bitDown|bitLeft|bitRight {
			return nil, fmt.Errorf("key mask out of range: %d", m)
		}
		if run == 0 || run > 1<<20 {
			return nil, fmt.Errorf("bad run length %d", run)
		}
		in := unmask(m)
		for k := uint64(0); k < run; k++ {
			out = append(out, in)
		}
	}
	return out, nil
}

// FormatInputs renders runs for people, e.g. "right x12, up+right x3".
func FormatInputs(inputs []state.Input) string {
	var parts []string
	for i := 0; i < len(inputs); {
		run := 1
		for i+run < len(inputs) && inputs[i+run] == inputs[i] {
			run++
		}
		parts = append(parts, fmt.Sprintf("%s x%d", inputs[i], run))
		i += run
	}
	return strings.Join(parts, ", ")
}
