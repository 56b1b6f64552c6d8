package packed

import (
	"bytes"
	"testing"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"single zero word", make([]byte, 8)},
		{"single dense word", []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{"sparse word", []byte{0, 0, 5, 0, 0, 0, 0, 9}},
		{"run of zero words", make([]byte, 8*10)},
		{"run of dense words", bytes.Repeat([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 10)},
		{
			"mixed",
			concat(
				make([]byte, 8),
				[]byte{1, 2, 3, 4, 5, 6, 7, 8},
				make([]byte, 8*3),
				[]byte{0, 0, 0, 0, 0, 0, 0, 9},
				bytes.Repeat([]byte{9, 9, 9, 9, 9, 9, 9, 9}, 300),
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := Pack(tt.in)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			got, err := Unpack(packed)
			if err != nil {
				t.Fatalf("Unpack: %v", err)
			}
			if !bytes.Equal(got, tt.in) {
				t.Fatalf("round trip mismatch:\nin:  %v\nout: %v", tt.in, got)
			}
		})
	}
}

func TestPackRejectsPartialWord(t *testing.T) {
	if _, err := Pack([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for non-word-aligned input")
	}
}

func TestUnpackTruncatedInput(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"tag with no count byte", []byte{0x00}},
		{"literal word cut short", []byte{0xFF, 1, 2, 3}},
		{"tagged word missing bytes", []byte{0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unpack(tt.in); err == nil {
				t.Fatalf("expected error unpacking %v", tt.in)
			}
		})
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
