package bytesize

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Size
		wantErr bool
	}{
		{"1024", 1024, false},
		{"10Mi", 10 * MiB, false},
		{"10MiB", 10 * MiB, false},
		{"100MB", 100 * MB, false},
		{"1Gi", GiB, false},
		{"1024Ti", 1024 * TiB, false},
		{"1.5Gi", Size(1.5 * float64(GiB)), false},
		{" 8 mib ", 8 * MiB, false},
		{"", 0, true},
		{"abc", 0, true},
		{"10Xi", 0, true},
		{"-5Mi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		size Size
		want string
	}{
		{512, "512B"},
		{10 * MiB, "10.00MiB"},
		{1024 * TiB, "1024.00TiB"},
	}
	for _, tt := range tests {
		if got := tt.size.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint64(tt.size), got, tt.want)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var s Size
	if err := s.UnmarshalText([]byte("10Mi")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if s != 10*MiB {
		t.Errorf("got %d, want %d", s, 10*MiB)
	}
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for invalid input")
	}
}
