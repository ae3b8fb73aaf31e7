package encoding

import (
	"encoding/base64"
	"testing"

	"tickpilot.dev/internal/sim/state"
)

func TestInputs_RoundTrip(t *testing.T) {
	right := state.Input{Right: true}
	jump := state.Input{Up: true, Right: true}
	in := []state.Input{right, right, right, jump, jump, {}}
	for i := 0; i < 50; i++ {
		in = append(in, state.Input{Left: true})
	}
	in = append(in, state.Input{Down: true}, right)

	enc := EncodeInputs(in)
	out, err := DecodeInputs(enc)
	if err != nil {
		t.Fatalf("DecodeInputs: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %s want %s", i, out[i], in[i])
		}
	}
	// Six runs of two single-byte varints.
	if raw, _ := base64.StdEncoding.DecodeString(enc); len(raw) != 12 {
		t.Fatalf("encoded %d bytes, want 12", len(raw))
	}
}

func TestDecodeInputs_Rejects(t *testing.T) {
	for name, raw := range map[string][]byte{
		"truncated": {0x08},
		"mask":      {0x10, 0x01},
		"zero run":  {0x01, 0x00},
	} {
		if _, err := DecodeInputs(base64.StdEncoding.EncodeToString(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if out, err := DecodeInputs(""); err != nil || len(out) != 0 {
		t.Fatalf("empty: %v %v", out, err)
	}
}

func TestFormatInputs(t *testing.T) {
	got := FormatInputs([]state.Input{{Right: true}, {Right: true}, {Up: true, Right: true}, {}})
	if want := "right x2, right+up x1, none x1"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
