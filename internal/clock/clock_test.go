package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemNowIsUTC(t *testing.T) {
	var s System
	assert.Equal(t, time.UTC, s.Now().Location())
}

func TestFakeAdvancesOnSleep(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	f.Advance = 2 * time.Second

	assert.Equal(t, start, f.Now())
	f.Sleep(2 * time.Second)
	assert.Equal(t, []time.Duration{2 * time.Second}, f.Slept)
	assert.Equal(t, start.Add(2*time.Second), f.Now())

	f.Set(start)
	assert.Equal(t, start, f.Now())
}
