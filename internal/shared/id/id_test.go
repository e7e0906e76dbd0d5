package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsMonotonic(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	gen := NewGeneratorWithEntropy(strings.NewReader(strings.Repeat("x", 1024)), func() time.Time { return fixed })

	a := gen.Generate()
	b := gen.Generate()

	assert.NotEqual(t, a, b)
	assert.Less(t, a.String(), b.String())
}

func TestNewRunID(t *testing.T) {
	runID := NewRunID()

	require.True(t, strings.HasPrefix(runID.String(), RunPrefix+"_"))

	ts, err := Timestamp(runID.String())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestTimestampRejectsGarbage(t *testing.T) {
	_, err := Timestamp("run_not-a-ulid")
	assert.Error(t, err)
}

func TestConcurrentGeneration(t *testing.T) {
	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[RunID]bool, n)
		wg   sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runID := NewRunID()
			mu.Lock()
			seen[runID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}
