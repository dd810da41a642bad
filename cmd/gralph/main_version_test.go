package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/FacuVCanale/gralph/internal/version"
)

func TestRunOnceMainSupportsVersionFlag(t *testing.T) {
	original := version.Version
	version.Version = "gralph-version-test"
	t.Cleanup(func() { version.Version = original })

	out := &bytes.Buffer{}
	code := RunOnceMain([]string{"--version"}, nil, out, io.Discard)
	if code != exitOK {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if strings.TrimSpace(out.String()) != "gralph gralph-version-test" {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}
