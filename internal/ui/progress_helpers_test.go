package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type fakeProgressTicker struct {
	ch chan time.Time
}

func newFakeProgressTicker() *fakeProgressTicker {
	return &fakeProgressTicker{ch: make(chan time.Time, 1)}
}

func (f *fakeProgressTicker) C() <-chan time.Time { return f.ch }
func (f *fakeProgressTicker) Tick(t time.Time)    { f.ch <- t }
func (f *fakeProgressTicker) Stop()               {}

func waitForOutput(t *testing.T, buffer *bytes.Buffer) string {
	t.Helper()
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if buffer.Len() > 0 {
			return buffer.String()
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for progress output")
	return ""
}

func lastRender(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
