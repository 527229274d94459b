package core_test

import (
	"errors"
	"testing"

	"i4.energy/across/linebridge/core"
)

func drain(b *core.LineBuffer) []string {
	var recs []string
	for {
		rec, ok := b.Next()
		if !ok {
			return recs
		}
		recs = append(recs, rec)
	}
}

func TestLineBuffer(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		expected []string
	}{
		{
			name:     "single response with CRLF endings",
			chunks:   []string{"+CSQ: 15,99\r\nOK\r\n"},
			expected: []string{"+CSQ: 15,99", "OK"},
		},
		{
			name:     "empty records are skipped",
			chunks:   []string{"+CSQ: 17,2\r\n\r\nOK\r\n"},
			expected: []string{"+CSQ: 17,2", "OK"},
		},
		{
			name:     "record split across chunks",
			chunks:   []string{"+CRE", "G: 0,1\r", "\nOK\r\n"},
			expected: []string{"+CREG: 0,1", "OK"},
		},
		{
			name:     "bare newline endings",
			chunks:   []string{"bssid=aa:bb\nlevel=-55\n"},
			expected: []string{"bssid=aa:bb", "level=-55"},
		},
		{
			name:     "trailing partial record stays buffered",
			chunks:   []string{"OK\r\n+CMTI"},
			expected: []string{"OK"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := core.NewLineBuffer(0)
			var recs []string
			for _, chunk := range tt.chunks {
				if err := b.Append([]byte(chunk)); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				recs = append(recs, drain(b)...)
			}
			if len(recs) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, recs)
			}
			for i := range recs {
				if recs[i] != tt.expected[i] {
					t.Errorf("record %d: expected %q, got %q", i, tt.expected[i], recs[i])
				}
			}
		})
	}
}

func TestLineBufferOverflow(t *testing.T) {
	b := core.NewLineBuffer(8)

	if err := b.Append([]byte("12345678")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := b.Append([]byte("9"))
	if !errors.Is(err, core.ErrBufferFull) {
		t.Errorf("expected ErrBufferFull, got %v", err)
	}
}

func TestLineBufferCompaction(t *testing.T) {
	b := core.NewLineBuffer(8)

	// consuming records frees the space they occupied
	for i := 0; i < 10; i++ {
		if err := b.Append([]byte("abcdef\n")); err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
		if rec, ok := b.Next(); !ok || rec != "abcdef" {
			t.Fatalf("iteration %d: expected abcdef, got %q (%v)", i, rec, ok)
		}
	}
	if b.Pending() != 0 {
		t.Errorf("expected empty buffer, %d bytes pending", b.Pending())
	}
}
