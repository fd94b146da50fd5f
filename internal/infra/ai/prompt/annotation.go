package prompt

import (
	"fmt"
	"strings"
)

// GetSystemPrompt provides strict directions and schema for annotation output.
func GetSystemPrompt() string {
	return `You are a senior UX and UI design reviewer. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object with an "annotations" array.
- Each annotation points at one concrete spot in one image.
- x and y are percentages of the image width and height, from 0 to 100, measured from the top-left corner.
- imageIndex is the zero-based position of the image in the order the images were given.
- Use lowercase severity values: critical, suggested, enhancement.
- confidence is a number between 0 and 1.
- businessImpact names the main thing at stake: conversion, task completion, trust, readability, performance or aesthetics.
- Keep feedback specific and actionable; one issue per annotation.

Schema (example with empty values):
{
  "annotations": [
    {
      "id": "<string>",
      "imageIndex": 0,
      "x": 0,
      "y": 0,
      "category": "<navigation|layout|typography|color|accessibility|content|forms|trust|general>",
      "severity": "<critical|suggested|enhancement>",
      "feedback": "<string>",
      "businessImpact": "<string>",
      "implementationEffort": "<low|medium|high>",
      "confidence": 0.0
    }
  ]
}`
}

// GetUserPrompt wraps the (possibly knowledge-enhanced) request text.
func GetUserPrompt(request string, imageCount int) string {
	var b strings.Builder
	if imageCount == 1 {
		b.WriteString("Review the attached design image and respond with the JSON per schema.")
	} else {
		fmt.Fprintf(&b, "Review the %d attached design images and respond with the JSON per schema. Use imageIndex to say which image each annotation belongs to.", imageCount)
	}
	if req := strings.TrimSpace(request); req != "" {
		b.WriteString("\n\n")
		b.WriteString(req)
	}
	return b.String()
}

// System returns override when set, the default system prompt otherwise.
func System(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return GetSystemPrompt()
}
