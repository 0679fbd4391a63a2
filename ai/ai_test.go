package ai

import "testing"

// TestClearHistory tests that conversation history is properly cleared.
func TestClearHistory(t *testing.T) {
	client, err := New("sk-test-key")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	client.ClearHistory()

	if len(client.conversationHistory) != 0 {
		t.Errorf("After ClearHistory, length = %d, want 0", len(client.conversationHistory))
	}
	if client.conversationHistory != nil {
		t.Error("After ClearHistory, conversationHistory should be nil")
	}
}

// TestNewFromEnv tests client creation from environment.
func TestNewFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	client, err := NewFromEnv()
	if err == nil {
		t.Error("NewFromEnv() with empty API key should return error")
	}
	if client != nil {
		t.Error("NewFromEnv() with empty API key should return nil client")
	}
}

// TestNew tests client creation with API key.
func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		wantError bool
	}{
		{name: "Valid API key", apiKey: "sk-ant-test-key-123", wantError: false},
		{name: "Empty API key", apiKey: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.apiKey)

			if tt.wantError {
				if err == nil {
					t.Error("New() should return error for empty API key")
				}
				if client != nil {
					t.Error("New() should return nil client on error")
				}
			} else {
				if err != nil {
					t.Errorf("New() unexpected error: %v", err)
				}
				if client == nil {
					t.Error("New() should return non-nil client for valid API key")
				}
			}
		})
	}
}
