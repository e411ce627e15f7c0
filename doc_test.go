package radioctl

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	if got := versionOf(nil); got != "" {
		t.Fatalf("versionOf(nil) = %q, want empty", got)
	}

	main := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/sdrgrid/radioctl", Version: "v0.3.1"},
	}
	if got := versionOf(main); got != "v0.3.1" {
		t.Fatalf("versionOf(main module) = %q, want v0.3.1", got)
	}

	dep := &debug.BuildInfo{
		Main: debug.Module{Path: "example.com/consumer", Version: "v1.0.0"},
		Deps: []*debug.Module{
			{Path: "github.com/sdrgrid/radioctl", Version: "v0.2.0"},
		},
	}
	if got := versionOf(dep); got != "v0.2.0" {
		t.Fatalf("versionOf(as dependency) = %q, want v0.2.0", got)
	}

	replaced := &debug.BuildInfo{
		Main: debug.Module{Path: "example.com/consumer", Version: "v1.0.0"},
		Deps: []*debug.Module{
			{
				Path:    "github.com/sdrgrid/radioctl",
				Version: "v0.2.0",
				Replace: &debug.Module{Path: "../radioctl", Version: "v0.0.0-dev"},
			},
		},
	}
	if got := versionOf(replaced); got != "v0.0.0-dev" {
		t.Fatalf("versionOf(replaced) = %q, want v0.0.0-dev", got)
	}

	if got := versionOf(&debug.BuildInfo{Main: debug.Module{Path: "example.com/other"}}); got != "" {
		t.Fatalf("versionOf(unrelated) = %q, want empty", got)
	}
}
