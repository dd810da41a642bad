// Package ui renders the headless progress line shown while a run is in
// flight, mirroring the teacher's terminal-agnostic status writer for
// non-interactive (piped, CI) invocations of the CLI.
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ProgressTicker abstracts time.Ticker so tests can drive renders on demand.
type ProgressTicker interface {
	C() <-chan time.Time
	Stop()
}

type realProgressTicker struct{ t *time.Ticker }

func newRealProgressTicker(d time.Duration) *realProgressTicker {
	return &realProgressTicker{t: time.NewTicker(d)}
}

func (r *realProgressTicker) C() <-chan time.Time { return r.t.C }
func (r *realProgressTicker) Stop()               { r.t.Stop() }

// ProgressConfig configures a Progress line writer.
type ProgressConfig struct {
	Writer  io.Writer
	State   string
	LogPath string
	Ticker  ProgressTicker
	Now     func() time.Time
}

var spinnerFrames = []string{"/", "-", "\\", "|"}

// Progress renders one status line per tick: a rotating spinner frame, the
// current state, and how long it has been since LogPath last changed.
type Progress struct {
	mu       sync.Mutex
	writer   io.Writer
	state    string
	logPath  string
	ticker   ProgressTicker
	now      func() time.Time
	frameIdx int
}

// NewProgress builds a Progress from cfg, defaulting Ticker to a 1s
// time.Ticker and Now to time.Now when unset.
func NewProgress(cfg ProgressConfig) *Progress {
	ticker := cfg.Ticker
	if ticker == nil {
		ticker = newRealProgressTicker(time.Second)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Progress{
		writer:  cfg.Writer,
		state:   cfg.State,
		logPath: cfg.LogPath,
		ticker:  ticker,
		now:     now,
	}
}

// SetState updates the state text shown on the next render.
func (p *Progress) SetState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// Run renders one line per ticker signal until ctx is canceled.
func (p *Progress) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-p.ticker.C():
			if !ok {
				return
			}
			p.render()
		}
	}
}

func (p *Progress) render() {
	p.mu.Lock()
	state := p.state
	frame := spinnerFrames[p.frameIdx%len(spinnerFrames)]
	p.frameIdx++
	p.mu.Unlock()

	age := "n/a"
	if info, err := os.Stat(p.logPath); err == nil {
		elapsed := p.now().Sub(info.ModTime())
		if elapsed < 0 {
			elapsed = 0
		}
		age = fmt.Sprintf("%ds", int64(elapsed.Seconds()))
	}

	line := fmt.Sprintf("%s %s - last output %s\n", frame, state, age)
	if p.writer != nil {
		_, _ = p.writer.Write([]byte(line))
	}
}
