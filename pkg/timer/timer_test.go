package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountdown(t *testing.T) {
	c := NewClock()
	d := c.NewCountdown()
	assert.True(t, d.Elapsed())

	d.Set(50)
	c.Tick(49)
	assert.False(t, d.Elapsed())
	assert.Equal(t, int64(1), d.Left())

	c.Tick(10)
	assert.True(t, d.Elapsed())
	assert.Equal(t, int64(0), d.Left())
}

func TestClock_Uptime(t *testing.T) {
	c := NewClock()
	c.Tick(999)
	assert.Equal(t, int64(0), c.Uptime())
	c.Tick(1)
	assert.Equal(t, int64(1), c.Uptime())
	assert.Equal(t, int64(1000), c.Millis())

	c.Tick(-5)
	assert.Equal(t, int64(1000), c.Millis())
}

func TestClock_Start(t *testing.T) {
	c := NewClock()
	d := c.NewCountdown()
	d.Set(20)

	c.Start(time.Millisecond)
	c.Start(time.Millisecond)
	defer c.Stop()

	assert.Eventually(t, d.Elapsed, time.Second, 5*time.Millisecond)
	assert.Greater(t, c.Millis(), int64(0))
}
