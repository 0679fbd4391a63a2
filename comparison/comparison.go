// Package comparison implements the "compare" command: running the same
// natural-language request against every configured model and persisting
// the candidate scripts side by side (spec.md §7), adapted from the
// teacher's comparison.go which did the same for step-sequencer command
// lists.
package comparison

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iltempo/engine/ai"
)

// ComparisonStatus represents the status of a comparison run.
type ComparisonStatus string

const (
	StatusRunning   ComparisonStatus = "running"
	StatusComplete  ComparisonStatus = "complete"
	StatusPartial   ComparisonStatus = "partial"
	StatusCancelled ComparisonStatus = "cancelled"
)

// ResultStatus represents the status of a single model's result.
type ResultStatus string

const (
	ResultSuccess    ResultStatus = "success"
	ResultError      ResultStatus = "error"
	ResultParseError ResultStatus = "parse_error"
)

// Comparison represents a single comparison run containing results from
// multiple AI models.
type Comparison struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	Prompt    string             `json:"prompt"`
	Status    ComparisonStatus   `json:"status"`
	Results   []ModelResult      `json:"results"`
	Ratings   map[string]*Rating `json:"ratings,omitempty"`
}

// ModelResult represents the output from a single model for a comparison.
type ModelResult struct {
	Model            string           `json:"model"`              // API model identifier
	ModelDisplayName string           `json:"model_display_name"` // Human-readable name
	Status           ResultStatus     `json:"status"`
	Draft            *ai.ScriptDraft  `json:"draft,omitempty"`
	Error            string           `json:"error,omitempty"`
	DurationMs       int64            `json:"duration_ms"`
}

// GetResultByModelID returns the result for a specific model, or nil if not found.
func (c *Comparison) GetResultByModelID(modelID string) *ModelResult {
	for i := range c.Results {
		if c.Results[i].Model == modelID {
			return &c.Results[i]
		}
	}
	return nil
}

// GetResultByDisplayName returns the result for a model by display name, or nil if not found.
func (c *Comparison) GetResultByDisplayName(displayName string) *ModelResult {
	for i := range c.Results {
		if c.Results[i].ModelDisplayName == displayName {
			return &c.Results[i]
		}
	}
	return nil
}

// SuccessfulResults returns only results with success status.
func (c *Comparison) SuccessfulResults() []ModelResult {
	var results []ModelResult
	for _, r := range c.Results {
		if r.Status == ResultSuccess {
			results = append(results, r)
		}
	}
	return results
}

// HasRating checks if a model has been rated in this comparison.
func (c *Comparison) HasRating(modelID string) bool {
	if c.Ratings == nil {
		return false
	}
	_, exists := c.Ratings[modelID]
	return exists
}

// ComparisonsDir is the directory where comparisons are saved.
const ComparisonsDir = "comparisons"

func generateComparisonID() string {
	return time.Now().Format("20060102-150405")
}

// Result is what the "compare" command reports to the caller: where the
// comparison was persisted and the per-model drafts it produced.
type Result struct {
	Path       string
	Candidates []ModelResult
}

// RunComparison sends prompt to every configured model via aiClient,
// collects each model's drafted script, and persists the run under
// ComparisonsDir. It is the entry point the REPL's "compare" command calls.
func RunComparison(aiClient *ai.Client, prompt string) (*Result, error) {
	c := &Comparison{
		ID:        generateComparisonID(),
		CreatedAt: time.Now(),
		Prompt:    prompt,
		Status:    StatusRunning,
		Results:   make([]ModelResult, 0, len(AvailableModels)),
	}

	successCount := 0
	for _, modelConfig := range AvailableModels {
		result := executePromptForModel(aiClient, prompt, modelConfig)
		c.Results = append(c.Results, result)
		if result.Status == ResultSuccess {
			successCount++
		}
	}

	switch {
	case successCount == len(AvailableModels):
		c.Status = StatusComplete
	case successCount > 0:
		c.Status = StatusPartial
	default:
		c.Status = StatusCancelled
	}

	if err := SaveComparison(c); err != nil {
		return nil, err
	}

	return &Result{
		Path:       filepath.Join(ComparisonsDir, c.ID+".json"),
		Candidates: c.Results,
	}, nil
}

// executePromptForModel runs a single prompt against one model and captures the result.
func executePromptForModel(aiClient *ai.Client, prompt string, modelConfig ModelConfig) ModelResult {
	start := time.Now()
	result := ModelResult{
		Model:            string(modelConfig.APIModel),
		ModelDisplayName: modelConfig.DisplayName,
	}

	draft, err := aiClient.GenerateScriptWithModel(prompt, string(modelConfig.APIModel))
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Status = ResultError
		result.Error = err.Error()
		return result
	}
	if strings.TrimSpace(draft.Content) == "" {
		result.Status = ResultParseError
		result.Error = "no script generated"
		return result
	}

	result.Status = ResultSuccess
	result.Draft = draft
	return result
}

// SaveComparison saves a comparison to a JSON file.
func SaveComparison(c *Comparison) error {
	if err := os.MkdirAll(ComparisonsDir, 0755); err != nil {
		return fmt.Errorf("failed to create comparisons directory: %w", err)
	}

	filePath := filepath.Join(ComparisonsDir, c.ID+".json")
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal comparison: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write comparison file: %w", err)
	}
	return nil
}

// LoadComparison loads a comparison from a JSON file.
func LoadComparison(id string) (*Comparison, error) {
	filePath := filepath.Join(ComparisonsDir, id+".json")
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("comparison '%s' not found", id)
		}
		return nil, fmt.Errorf("failed to read comparison file: %w", err)
	}

	var c Comparison
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse comparison file: %w", err)
	}
	return &c, nil
}

// ListComparisons returns a list of all saved comparison IDs.
func ListComparisons() ([]string, error) {
	if _, err := os.Stat(ComparisonsDir); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(ComparisonsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read comparisons directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return ids, nil
}

// DeleteComparison deletes a saved comparison.
func DeleteComparison(id string) error {
	filePath := filepath.Join(ComparisonsDir, id+".json")
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("comparison '%s' not found", id)
		}
		return fmt.Errorf("failed to delete comparison: %w", err)
	}
	return nil
}
