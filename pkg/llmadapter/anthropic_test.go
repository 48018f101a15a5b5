package llmadapter

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"

	"github.com/aegisops/aegis/pkg/ports"
)

func TestNewConfigAppliesSpecDefaults(t *testing.T) {
	cfg := NewConfig("claude-sonnet-4-5-20250929")
	require.Equal(t, uint64(3), cfg.MaxRetries)
	require.Equal(t, int64(4096), cfg.MaxTokens)
}

func TestToAnthropicMessagesSeparatesSystemFromTurns(t *testing.T) {
	a := &Adapter{}
	system, msgs := a.toAnthropicMessages([]ports.ChatMessage{
		{Role: ports.RoleSystem, Content: "be terse"},
		{Role: ports.RoleUser, Content: "hello"},
		{Role: ports.RoleAssistant, Content: "hi"},
	})
	require.Equal(t, "be terse", system)
	require.Len(t, msgs, 2)
}

func TestToChatResponseExtractsUsageAndText(t *testing.T) {
	// Content blocks are decoded from the raw JSON the SDK keeps while
	// unmarshalling, so the message is built from JSON, not a literal.
	var message anthropic.Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"content": [{"type": "text", "text": "the answer"}],
		"usage": {"input_tokens": 10, "output_tokens": 20}
	}`), &message))

	resp := toChatResponse(message)
	require.Equal(t, "the answer", resp.Content)
	require.Equal(t, 30, resp.Usage.TotalTokens)
	require.Equal(t, "end_turn", resp.FinishReason)
}
