package main

import (
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"paperpipe/internal/stage"
)

// stageProgress draws one bar per stage, replacing the bar when the stage
// changes.
type stageProgress struct {
	out io.Writer

	mu    sync.Mutex
	name  string
	bar   *progressbar.ProgressBar
	total int
}

func newStageProgress(out io.Writer) *stageProgress {
	return &stageProgress{out: out}
}

func (p *stageProgress) update(stageName string, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stageName != p.name || total != p.total || p.bar == nil {
		if p.bar != nil {
			_ = p.bar.Finish()
		}
		p.name = stageName
		p.total = total
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(stageDescription(stageName)),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = p.bar.Set(done)
}

func (p *stageProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

func stageDescription(name string) string {
	switch name {
	case stage.NameFetch:
		return "Downloading artifacts"
	case stage.NameExtract:
		return "Extracting text"
	default:
		return name
	}
}
