package pipeline_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
)

func TestRouterFallsBack(t *testing.T) {
	r := pipeline.NewRouter(map[string]string{"piper": "p", "openai": "o"}, "piper")

	got, err := r.Route("openai")
	gt.NoError(t, err)
	gt.Equal(t, got, "o")

	got, err = r.Route("unknown")
	gt.NoError(t, err)
	gt.Equal(t, got, "p")

	gt.Equal(t, r.Engines(), []string{"openai", "piper"})
	gt.True(t, r.Has("piper"))
	gt.False(t, r.Has("kokoro"))
}

func TestRouterWithoutFallback(t *testing.T) {
	r := pipeline.NewRouter(map[string]int{}, "missing")
	_, err := r.Route("x")
	gt.True(t, errors.Is(err, pipeline.ErrNoBackend))
}

func TestRouterCopiesBackends(t *testing.T) {
	backends := map[string]string{"piper": "p"}
	r := pipeline.NewRouter(backends, "piper")
	backends["openai"] = "o"

	gt.False(t, r.Has("openai"))
	got, err := r.Route("")
	gt.NoError(t, err)
	gt.Equal(t, got, "p")
}
