package env_test

import (
	"testing"
	"time"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/env"
	"github.com/m-mizutani/gt"
)

func TestFallbacks(t *testing.T) {
	t.Setenv("RELAY_TEST_INT", "abc")
	t.Setenv("RELAY_TEST_EMPTY", "")

	gt.Equal(t, env.Str("RELAY_TEST_EMPTY", "x"), "x")
	gt.Equal(t, env.Int("RELAY_TEST_INT", 7), 7)
	gt.Equal(t, env.Float("RELAY_TEST_MISSING", 0.5), 0.5)
	gt.Equal(t, env.Bool("RELAY_TEST_MISSING", true), true)
	gt.Equal(t, env.Duration("RELAY_TEST_MISSING", time.Second), time.Second)
}

func TestParsed(t *testing.T) {
	t.Setenv("RELAY_TEST_INT", "42")
	t.Setenv("RELAY_TEST_FLOAT", "0.25")
	t.Setenv("RELAY_TEST_BOOL", "false")
	t.Setenv("RELAY_TEST_DUR", "750ms")

	gt.Equal(t, env.Int("RELAY_TEST_INT", 0), 42)
	gt.Equal(t, env.Float("RELAY_TEST_FLOAT", 0), 0.25)
	gt.Equal(t, env.Bool("RELAY_TEST_BOOL", true), false)
	gt.Equal(t, env.Duration("RELAY_TEST_DUR", 0), 750*time.Millisecond)
}
