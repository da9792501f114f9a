package prompts_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/prompts"
)

func TestForSessionDefaultsBlankPrompt(t *testing.T) {
	gt.Equal(t, prompts.ForSession("  \n"), prompts.DefaultSystem)
	gt.Equal(t, prompts.ForSession("Be brief."), "Be brief.")
}

func TestRealtimeInstructions(t *testing.T) {
	gt.Equal(t, prompts.RealtimeInstructions("Be brief.", false), "Be brief.")

	withTool := prompts.RealtimeInstructions("", true)
	gt.True(t, strings.HasPrefix(withTool, prompts.DefaultSystem))
	gt.True(t, strings.Contains(withTool, "context_retriever"))
}

func TestRAGContextKeepsRetrievedText(t *testing.T) {
	gt.True(t, strings.HasSuffix(prompts.RAGContext("Refunds take 5 days."), "\nRefunds take 5 days."))
}
