// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides accurate token counting for a model deployment.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter for the given deployment name.
// Azure deployment names do not always match OpenAI model names (e.g.
// gpt-35-turbo), so the mapping goes by prefix and falls back to the gpt-4o
// encoding for anything unrecognized.
func NewTokenCounter(deployment string) (*TokenCounter, error) {
	var tikModel tokenizer.Model
	switch {
	case strings.HasPrefix(deployment, "gpt-4o"):
		tikModel = tokenizer.GPT4o
	case strings.HasPrefix(deployment, "gpt-4"):
		tikModel = tokenizer.GPT4
	case strings.HasPrefix(deployment, "gpt-35") || strings.HasPrefix(deployment, "gpt-3.5"):
		tikModel = tokenizer.GPT35Turbo
	default:
		tikModel = tokenizer.GPT4o
	}

	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for deployment %s: %w", deployment, err)
	}

	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token)
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		// Fallback to character-based estimation on error
		return len(text) / 4
	}

	return count
}

// CountTokensSimple provides a simple token counting function without requiring a TokenCounter instance.
// Uses the gpt-4o encoding by default.
func CountTokensSimple(text string) int {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		// Fallback to character-based estimation
		return len(text) / 4
	}
	return counter.CountTokens(text)
}

// ValidateTokenLimit checks if text exceeds the specified token limit.
// Returns true if within limit, false if exceeds limit.
func (tc *TokenCounter) ValidateTokenLimit(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}

// TruncateToTokenLimit truncates text to fit within the specified token limit.
// This is a rough approximation - it truncates by characters, not perfect token boundaries.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	currentTokens := tc.CountTokens(text)
	if currentTokens <= limit {
		return text
	}

	// Rough approximation: truncate proportionally
	ratio := float64(limit) / float64(currentTokens)
	charLimit := int(float64(len(text)) * ratio * 0.9) // 0.9 safety margin

	if charLimit >= len(text) {
		return text
	}

	return text[:charLimit] + "..."
}
