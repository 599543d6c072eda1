package main

import (
	"os"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"config-checker/internal/pipeline"
)

const barTemplate = `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{etime . }}`

// progressBars keeps one bar per phase. Update is called from workers.
type progressBars struct {
	mu   sync.Mutex
	bars map[pipeline.Phase]*pb.ProgressBar
}

func newProgressBars() *progressBars {
	return &progressBars{bars: make(map[pipeline.Phase]*pb.ProgressBar)}
}

func (p *progressBars) Update(phase pipeline.Phase, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bar, ok := p.bars[phase]
	if !ok {
		// a new phase means the previous one is complete
		for _, b := range p.bars {
			b.Finish()
		}
		bar = pb.ProgressBarTemplate(barTemplate).New(total)
		bar.SetWriter(os.Stderr)
		bar.Set("prefix", prefixFor(phase))
		bar.Start()
		p.bars[phase] = bar
	}
	if int64(done) > bar.Current() {
		bar.SetCurrent(int64(done))
	}
}

func (p *progressBars) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.bars {
		b.Finish() // idempotent
	}
}

func prefixFor(phase pipeline.Phase) string {
	switch phase {
	case pipeline.PhaseProbe:
		return "Probing   "
	case pipeline.PhaseVerify:
		return "Verifying "
	default:
		return string(phase) + " "
	}
}
