package main

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"config-checker/internal/pipeline"
)

func TestProgressBars_OnePerPhase(t *testing.T) {
	bars := newProgressBars()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			bars.Update(pipeline.PhaseProbe, n, 20)
		}(i)
	}
	wg.Wait()
	bars.Update(pipeline.PhaseVerify, 1, 2)
	bars.Update(pipeline.PhaseVerify, 2, 2)
	bars.Finish()

	assert.Len(t, bars.bars, 2)
	assert.Equal(t, int64(20), bars.bars[pipeline.PhaseProbe].Current())
	assert.Equal(t, int64(2), bars.bars[pipeline.PhaseVerify].Current())
}

func TestPrefixFor(t *testing.T) {
	assert.Equal(t, "Probing   ", prefixFor(pipeline.PhaseProbe))
	assert.Equal(t, "Verifying ", prefixFor(pipeline.PhaseVerify))
}
