package keylift

import "testing"

func TestReserveSizeInvariant(t *testing.T) {
	f := DefaultFormat()

	if got := f.Reserve(); got != 96 {
		t.Errorf("Reserve() = %d, want 96", got)
	}
	if got := f.DataEnd(); got != 4016 {
		t.Errorf("DataEnd() = %d, want 4016", got)
	}
}

// With the default constants the trailer is already a block multiple; a
// 20-byte digest forces an actual round up.
func TestReserveRoundsUpToBlockSize(t *testing.T) {
	f := DefaultFormat()
	f.MACSize = 20 // IV 16 + 20 = 36, next block multiple is 48

	if got := f.Reserve(); got != 48 {
		t.Errorf("Reserve() = %d, want 48", got)
	}
}

func TestFormatValidate(t *testing.T) {
	if err := DefaultFormat().Validate(); err != nil {
		t.Fatalf("default format should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Format)
	}{
		{"zero page size", func(f *Format) { f.PageSize = 0 }},
		{"zero key size", func(f *Format) { f.KeySize = 0 }},
		{"zero iterations", func(f *Format) { f.EncIterations = 0 }},
		{"trailer larger than page", func(f *Format) { f.PageSize = 64 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DefaultFormat()
			tt.mutate(&f)
			if err := f.Validate(); err == nil {
				t.Error("expected validation error, got none")
			}
		})
	}
}
