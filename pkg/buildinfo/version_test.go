package buildinfo

import (
	"strings"
	"testing"
)

func TestTemplateMentionsBuildFields(t *testing.T) {
	tpl := Template()
	for _, want := range []string{"{{.Name}}", "commit: " + Commit, "built: " + Date} {
		if !strings.Contains(tpl, want) {
			t.Errorf("Template() = %q, missing %q", tpl, want)
		}
	}
}

func TestUserAgent(t *testing.T) {
	if ua := UserAgent(); !strings.HasPrefix(ua, "lockstep/") {
		t.Errorf("UserAgent() = %q", ua)
	}
}
