package charset

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    uint8
		wantErr bool
	}{
		{"utf8", "utf8", 33, false},
		{"utf8mb4", "utf8mb4", 45, false},
		{"latin1", "latin1", 8, false},
		{"binary", "binary", 63, false},
		{"collation name", "utf8mb4_bin", 46, false},
		{"case insensitive", "UTF8MB4", 45, false},
		{"padded", " utf8 ", 33, false},
		{"unknown", "klingon", 0, true},
		{"empty", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("id = %d, want %d", got, tt.want)
			}
		})
	}
}
