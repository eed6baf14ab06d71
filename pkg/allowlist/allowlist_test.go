package allowlist

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	s := Parse(" /data/in , ,/tmp/uploads/ ")
	got := s.Prefixes()
	if len(got) != 2 {
		t.Fatalf("len(prefixes) = %d, want 2: %v", len(got), got)
	}
	if got[0] != "/data/in" {
		t.Errorf("prefixes[0] = %q, want /data/in", got[0])
	}
	if got[1] != "/tmp/uploads" {
		t.Errorf("prefixes[1] = %q, want /tmp/uploads", got[1])
	}
}

func TestParseEmpty(t *testing.T) {
	for _, in := range []string{"", " ", ",,"} {
		if !Parse(in).Empty() {
			t.Errorf("Parse(%q) should be empty", in)
		}
	}
}

func TestCheck(t *testing.T) {
	s := New([]string{"/allowed", "/srv/shared"})

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr error
	}{
		{name: "exact prefix", path: "/allowed", want: "/allowed"},
		{name: "file under prefix", path: "/allowed/a.txt", want: "/allowed/a.txt"},
		{name: "nested", path: "/srv/shared/x/y.bin", want: "/srv/shared/x/y.bin"},
		{name: "normalized", path: "/allowed/sub/../b.txt", want: "/allowed/b.txt"},
		{name: "sibling with common prefix", path: "/allowed2/a.txt", wantErr: ErrOutsideAllowedDirs},
		{name: "traversal out", path: "/allowed/../etc/passwd", wantErr: ErrOutsideAllowedDirs},
		{name: "unrelated", path: "/etc/passwd", wantErr: ErrOutsideAllowedDirs},
		{name: "relative", path: "allowed/a.txt", wantErr: ErrOutsideAllowedDirs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Check(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Check(%q) error = %v, want %v", tt.path, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check(%q) unexpected error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("Check(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestCheckEmptyFailsClosed(t *testing.T) {
	var s Set
	if _, err := s.Check("/anything"); !errors.Is(err, ErrNoAllowedDirs) {
		t.Fatalf("error = %v, want ErrNoAllowedDirs", err)
	}
}

func TestCheckRootPrefix(t *testing.T) {
	s := New([]string{"/"})
	if _, err := s.Check("/etc/hosts"); err != nil {
		t.Errorf("root prefix should allow everything: %v", err)
	}
}
