package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInstantAfter(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Instant(start)

	got := <-c.After(5 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), got)

	<-c.After(0)
	c.Advance(time.Minute)

	assert.Equal(t, []time.Duration{5 * time.Second, 0}, c.Waits())
	assert.Equal(t, start.Add(5*time.Second+time.Minute), c.Now())
}

func TestInstantTickerIsSilent(t *testing.T) {
	ticker := Instant(time.Time{}).NewTicker(time.Second)
	defer ticker.Stop()
	ticker.Reset(2 * time.Second)

	select {
	case <-ticker.C:
		t.Fatal("instant ticker should not fire")
	default:
	}
}
