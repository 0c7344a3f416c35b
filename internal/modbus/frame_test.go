package modbus

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeRead(t *testing.T) {
	tests := []struct {
		name     string
		kind     RegisterKind
		txID     uint16
		unitID   byte
		address  uint16
		quantity uint16
		want     []byte
	}{
		{
			name:     "holding registers",
			kind:     Holding,
			txID:     1,
			unitID:   1,
			address:  0x0010,
			quantity: 2,
			want:     []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x10, 0x00, 0x02},
		},
		{
			name:     "input registers",
			kind:     Input,
			txID:     0x0102,
			unitID:   3,
			address:  0,
			quantity: 4,
			want:     []byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x06, 0x03, 0x04, 0x00, 0x00, 0x00, 0x04},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodeRead(tt.txID, tt.unitID, tt.kind, tt.address, tt.quantity)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("encodeRead() = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestEncodeWriteSingle(t *testing.T) {
	got := encodeWriteSingle(7, 1, fnWriteCoil, 0x0005, 0xFF00)
	want := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x01, 0x05, 0x00, 0x05, 0xFF, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeWriteSingle() = % x, want % x", got, want)
	}
}

func TestCoilValue(t *testing.T) {
	if coilValue(true) != 0xFF00 {
		t.Errorf("coilValue(true) = %#x, want 0xFF00", coilValue(true))
	}
	if coilValue(false) != 0 {
		t.Errorf("coilValue(false) = %#x, want 0", coilValue(false))
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   []byte
		wantTx   uint16
		wantUnit byte
		wantLen  int
		wantErr  bool
	}{
		{
			name:     "valid",
			header:   []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x07, 0x01},
			wantTx:   1,
			wantUnit: 1,
			wantLen:  6,
		},
		{
			name:     "transaction mismatch",
			header:   []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x07, 0x01},
			wantTx:   1,
			wantUnit: 1,
			wantErr:  true,
		},
		{
			name:     "wrong protocol id",
			header:   []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x07, 0x01},
			wantTx:   1,
			wantUnit: 1,
			wantErr:  true,
		},
		{
			name:     "unit mismatch",
			header:   []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x07, 0x02},
			wantTx:   1,
			wantUnit: 1,
			wantErr:  true,
		},
		{
			name:     "implausible length",
			header:   []byte{0x00, 0x01, 0x00, 0x00, 0x01, 0xFF, 0x01},
			wantTx:   1,
			wantUnit: 1,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLen, err := parseHeader(tt.header, tt.wantTx, tt.wantUnit)
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseHeader() expected error, got nil")
				}
				if !errors.Is(err, ErrProtocol) {
					t.Errorf("parseHeader() error = %v, want ErrProtocol", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseHeader() unexpected error: %v", err)
			}
			if gotLen != tt.wantLen {
				t.Errorf("parseHeader() length = %d, want %d", gotLen, tt.wantLen)
			}
		})
	}
}

func TestParsePDU(t *testing.T) {
	t.Run("valid response", func(t *testing.T) {
		body, err := parsePDU([]byte{fnReadHolding, 0x02, 0x00, 0x2A}, fnReadHolding)
		if err != nil {
			t.Fatalf("parsePDU() unexpected error: %v", err)
		}
		if !bytes.Equal(body, []byte{0x02, 0x00, 0x2A}) {
			t.Errorf("parsePDU() body = % x", body)
		}
	})

	t.Run("exception response", func(t *testing.T) {
		_, err := parsePDU([]byte{fnReadHolding | exceptionFlag, exIllegalDataAddress}, fnReadHolding)
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("parsePDU() error = %v, want ErrProtocol", err)
		}
	})

	t.Run("function mismatch", func(t *testing.T) {
		_, err := parsePDU([]byte{fnReadInput, 0x02, 0x00, 0x2A}, fnReadHolding)
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("parsePDU() error = %v, want ErrProtocol", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, err := parsePDU(nil, fnReadHolding)
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("parsePDU() error = %v, want ErrProtocol", err)
		}
	})
}

func TestParseReadValues(t *testing.T) {
	t.Run("two registers", func(t *testing.T) {
		values, err := parseReadValues([]byte{0x04, 0x00, 0x2A, 0x01, 0x00}, 2)
		if err != nil {
			t.Fatalf("parseReadValues() unexpected error: %v", err)
		}
		if len(values) != 2 || values[0] != 42 || values[1] != 256 {
			t.Errorf("parseReadValues() = %v, want [42 256]", values)
		}
	})

	t.Run("byte count mismatch", func(t *testing.T) {
		_, err := parseReadValues([]byte{0x02, 0x00, 0x2A}, 2)
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("parseReadValues() error = %v, want ErrProtocol", err)
		}
	})
}

func TestEndpoint(t *testing.T) {
	t.Run("structural equality", func(t *testing.T) {
		a := NewEndpoint("10.0.0.1", 502, 1)
		b := NewEndpoint("10.0.0.1", 502, 1)
		if a != b {
			t.Error("identical endpoints compare unequal")
		}
		c := NewEndpoint("10.0.0.1", 502, 2)
		if a == c {
			t.Error("endpoints with different units compare equal")
		}
	})

	t.Run("default port", func(t *testing.T) {
		ep := NewEndpoint("10.0.0.1", 0, 1)
		if ep.Port != DefaultPort {
			t.Errorf("Port = %d, want %d", ep.Port, DefaultPort)
		}
	})

	t.Run("addr", func(t *testing.T) {
		ep := NewEndpoint("10.0.0.1", 502, 1)
		if got := ep.Addr(); got != "10.0.0.1:502" {
			t.Errorf("Addr() = %q", got)
		}
	})

	t.Run("validate", func(t *testing.T) {
		if err := (Endpoint{Port: 502}).Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("empty host: error = %v, want ErrValidation", err)
		}
		if err := (Endpoint{Host: "x", Port: 70000}).Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("bad port: error = %v, want ErrValidation", err)
		}
	})
}
