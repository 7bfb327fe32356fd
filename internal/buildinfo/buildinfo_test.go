package buildinfo

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	for _, key := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch", "uptime"} {
		if info[key] == "" {
			t.Errorf("Info()[%q] is empty", key)
		}
	}
}

func TestUserAgent(t *testing.T) {
	if !strings.HasPrefix(UserAgent(), "henwatch/") {
		t.Errorf("UserAgent = %q", UserAgent())
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.Contains(s, "henwatch") || !strings.Contains(s, Version) {
		t.Errorf("String = %q", s)
	}
}

func TestUptimeNonNegative(t *testing.T) {
	if Uptime() < 0 {
		t.Errorf("Uptime = %v", Uptime())
	}
}
