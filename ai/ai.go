// Package ai wraps the Anthropic SDK for the REPL's "ask" and "compare"
// commands: drafting a frame script from a natural-language request, and
// asking the same request of several models for side-by-side comparison
// (spec.md §7). The client construction and text-extraction plumbing are
// carried over from the teacher's ai.go; only the system prompts and the
// request/response shapes change, since the domain is now ASM frame
// scripts, not step-sequencer commands.
package ai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const scriptSystemPrompt = `You are a musical assistant for a live-coding performance engine. Scenes are built from Lines, each holding a sequence of Frames, and each Frame holds a script that the engine compiles and runs once per repetition.

Scripts are written in the engine's line-based assembly notation. Each instruction is one line; lines starting with ";" are comments, and a line of the form "name:" marks a jump target. Operands: #60, #0.5, #true and #"text" are constants; g:<name>, l:<name>, f:<name> and i:<name> address a global, line, frame or instance variable; env:tempo, env:random_uint:N, env:random_int and env:random_float call environment functions. Useful instructions:
- effect.note <note> <velocity> <channel> <device> <duration>   emit a MIDI note; the note sounds for duration beats and the script waits that long before its next instruction
- effect.control <controller> <value> <channel> <device> <duration>   emit a MIDI control-change, then wait duration beats
- effect.program <program> <channel> <device> <duration>   emit a MIDI program change, then wait duration beats
- mov <src> <dst>                      copy a value into a variable
- add|sub|mul|div <src1> <src2> <dst>  arithmetic
- lt|gt|eq <src1> <src2> <dst>         comparison
- jump <label> / jump_if_true <src> <label> / jump_if_false <src> <label>   control flow

Use i:_current_midi_device_id as the device operand to play on the line's own device. The script ends for this repetition when execution runs past its last line.

Respond with ONLY the script body, one instruction per line, no explanation, no code fences, no blank leading/trailing lines. Keep it short: a handful of notes or a short arpeggio unless asked for more.

Examples:
User: "play a C major arpeggio"
You:
effect.note #60 #100 #0 i:_current_midi_device_id #0.5
effect.note #64 #100 #0 i:_current_midi_device_id #0.5
effect.note #67 #100 #0 i:_current_midi_device_id #0.5

User: "a single soft kick on channel 9"
You:
effect.note #36 #60 #9 i:_current_midi_device_id #0.25`

const compareSystemPrompt = scriptSystemPrompt + "\n\nYou are one of several models being compared on the same request; answer as you normally would."

// Client wraps the Anthropic SDK client used by the "ask" and "compare"
// commands.
type Client struct {
	client              anthropic.Client
	conversationHistory []anthropic.MessageParam
}

// New creates a new AI client from an explicit API key.
func New(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Client{
		client: client,
	}, nil
}

// NewFromEnv creates a new AI client using the ANTHROPIC_API_KEY env var.
func NewFromEnv() (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	return New(apiKey)
}

// ScriptDraft is a model-drafted frame script, ready to compile and attach
// to a line (spec.md §7's "ask" flow).
type ScriptDraft struct {
	Content       string
	Language      string
	DurationBeats float64
}

// defaultDraftDurationBeats is used when the request gives no hint about
// length; most single-phrase drafts fit comfortably inside four beats.
const defaultDraftDurationBeats = 4.0

// GenerateScript asks the model to draft a frame script for prompt. The
// returned draft always names "asm" as its language, since that's the only
// compiler wired in by default (spec.md §4.3's pluggable Compiler seam
// allows others).
func (c *Client) GenerateScript(prompt string) (*ScriptDraft, error) {
	message, err := c.client.Messages.New(context.Background(), anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: scriptSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}

	content := strings.TrimSpace(extractText(message))
	if content == "" {
		return nil, fmt.Errorf("assistant returned an empty script")
	}

	return &ScriptDraft{
		Content:       content,
		Language:      "asm",
		DurationBeats: defaultDraftDurationBeats,
	}, nil
}

// GenerateScriptWithModel is GenerateScript pinned to an explicit model
// name, used by the comparison harness to query several models for the
// same prompt.
func (c *Client) GenerateScriptWithModel(prompt, model string) (*ScriptDraft, error) {
	message, err := c.client.Messages.New(context.Background(), anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: compareSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude API error (%s): %w", model, err)
	}

	content := strings.TrimSpace(extractText(message))
	if content == "" {
		return nil, fmt.Errorf("assistant returned an empty script (%s)", model)
	}

	return &ScriptDraft{
		Content:       content,
		Language:      "asm",
		DurationBeats: defaultDraftDurationBeats,
	}, nil
}

// Chat asks the model a free-form question about the scene, with
// conversation history preserved across calls (the teacher's ai.go
// conversational mode, carried over unchanged since nothing about it is
// sequencer-specific).
func (c *Client) Chat(question string) (string, error) {
	c.conversationHistory = append(c.conversationHistory,
		anthropic.NewUserMessage(anthropic.NewTextBlock(question)))

	message, err := c.client.Messages.New(context.Background(), anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: "You are a musical assistant for a live-coding performance engine. Answer questions about scenes, lines, frames, and scripts conversationally."},
		},
		Messages: c.conversationHistory,
	})
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	responseText := extractText(message)
	c.conversationHistory = append(c.conversationHistory,
		anthropic.NewAssistantMessage(anthropic.NewTextBlock(responseText)))

	return strings.TrimSpace(responseText), nil
}

// ClearHistory clears the conversation history kept by Chat.
func (c *Client) ClearHistory() {
	c.conversationHistory = nil
}

func extractText(message *anthropic.Message) string {
	var responseText string
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			responseText += b.Text
		}
	}
	return responseText
}
