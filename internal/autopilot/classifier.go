// Package autopilot classifies prompts, selects cost-appropriate models and
// orchestrates the full request flow: admission, cache, routing, validation,
// pricing and audit.
package autopilot

import (
	"strings"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

// TaskType is a prompt's classified task category.
type TaskType string

const (
	TaskCode           TaskType = "code"
	TaskReasoning      TaskType = "reasoning"
	TaskSummarization  TaskType = "summarization"
	TaskTranslation    TaskType = "translation"
	TaskExtraction     TaskType = "extraction"
	TaskClassification TaskType = "classification"
	TaskGeneration     TaskType = "generation"
)

// noMatchConfidence is assigned when no keyword matches; the prompt is still
// classified as generation, never as unknown.
const noMatchConfidence = 0.3

// categoryOrder fixes the iteration order so equal hit counts resolve the
// same way on every run.
var categoryOrder = []TaskType{
	TaskCode,
	TaskReasoning,
	TaskSummarization,
	TaskTranslation,
	TaskExtraction,
	TaskClassification,
	TaskGeneration,
}

// taskKeywords are matched as substrings against the lowercased most recent
// user message. Loaded once, never mutated at runtime.
var taskKeywords = map[TaskType][]string{
	TaskCode: {
		"code", "function", "debug", "refactor", "implement", "compile",
		"python", "javascript", "typescript", "golang", "sql", "regex",
		"unit test", "stack trace", "algorithm", "api endpoint",
	},
	TaskReasoning: {
		"why", "explain", "reason", "prove", "deduce", "logic",
		"step by step", "think through", "analyze", "compare and contrast",
		"trade-off", "pros and cons", "puzzle", "math problem",
	},
	TaskSummarization: {
		"summarize", "summary", "tl;dr", "tldr", "condense", "shorten",
		"key points", "main points", "abstract", "brief overview",
	},
	TaskTranslation: {
		"translate", "translation", "in french", "in spanish", "in german",
		"in japanese", "in chinese", "into english", "localize",
	},
	TaskExtraction: {
		"extract", "parse", "pull out", "list all", "find all",
		"identify the", "structured data", "fields from", "named entities",
	},
	TaskClassification: {
		"classify", "categorize", "label", "which category", "sentiment",
		"spam or", "tag this", "is this positive",
	},
	TaskGeneration: {
		"write", "draft", "compose", "generate", "create", "story",
		"poem", "email", "blog post", "article", "caption",
	},
}

// Classifier scans prompts against the fixed keyword tables.
type Classifier struct{}

// NewClassifier creates a Classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify scans the most recent user message and returns the winning task
// category with a confidence score: the winner's hit count over total hits
// across all categories. No matches yields generation at fixed confidence.
func (c *Classifier) Classify(req *domain.ChatRequest) (TaskType, float64) {
	text := strings.ToLower(req.LastUserMessage())
	if text == "" {
		return TaskGeneration, noMatchConfidence
	}

	hits := make(map[TaskType]int, len(categoryOrder))
	total := 0
	for _, task := range categoryOrder {
		for _, kw := range taskKeywords[task] {
			if strings.Contains(text, kw) {
				hits[task]++
				total++
			}
		}
	}
	if total == 0 {
		return TaskGeneration, noMatchConfidence
	}

	// First category in the fixed order wins ties.
	var winner TaskType
	best := 0
	for _, task := range categoryOrder {
		if hits[task] > best {
			winner = task
			best = hits[task]
		}
	}
	return winner, float64(best) / float64(total)
}
