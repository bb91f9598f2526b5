package cli

import "testing"

func TestSplitSpec(t *testing.T) {
	tests := []struct {
		in          string
		wantName    string
		wantVersion string
		wantErr     bool
	}{
		{"core@1.2.3", "core", "1.2.3", false},
		{"@scope/core@2.0.0-beta.1", "@scope/core", "2.0.0-beta.1", false},
		{"core", "", "", true},
		{"core@", "", "", true},
		{"@scope/core", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, ver, err := splitSpec(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitSpec(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if name != tt.wantName || ver != tt.wantVersion {
				t.Errorf("splitSpec(%q) = %q, %q, want %q, %q", tt.in, name, ver, tt.wantName, tt.wantVersion)
			}
		})
	}
}

func TestDistTagAddRejectsBadTag(t *testing.T) {
	if _, err := runCLI(t, t.TempDir(), "dist-tag", "add", "core@1.0.0", "1.0.0"); err == nil {
		t.Error("a version-like dist-tag should be rejected")
	}
}
