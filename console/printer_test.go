package console

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinfoilsh/reasoning-search/pipeline"
	"github.com/tinfoilsh/reasoning-search/search"
	"github.com/tinfoilsh/reasoning-search/sections"
)

var testResults = []search.Result{
	{Title: "Rayleigh scattering", URL: "https://example.com/rayleigh"},
	{Title: "Why is the sky blue?", URL: "https://example.com/sky"},
}

func TestNewPrinter_Width(t *testing.T) {
	assert.Equal(t, maxLineLength, NewPrinter(&bytes.Buffer{}, 0).width)
	assert.Equal(t, maxLineLength, NewPrinter(&bytes.Buffer{}, 500).width)
	assert.Equal(t, 40, NewPrinter(&bytes.Buffer{}, 40).width)
}

func TestPrinter_Streaming(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, 80)

	require.NoError(t, p.EmitSearchResults(testResults))
	require.NoError(t, p.EmitSection(sections.SectionReasoning))
	require.NoError(t, p.EmitDelta(pipeline.Delta{Content: "Reasoning: light", Reasoning: "light"}))
	require.NoError(t, p.EmitDelta(pipeline.Delta{Content: " scatters", Reasoning: " scatters"}))
	require.NoError(t, p.EmitSection(sections.SectionAnswer))
	require.NoError(t, p.EmitDelta(pipeline.Delta{Content: "\nAnswer: blue", Answer: "blue"}))
	require.NoError(t, p.EmitAnswer(&pipeline.ResponderResultData{Provider: "openai", Model: "gpt-3.5-turbo"}))
	require.NoError(t, p.EmitDone())

	out := buf.String()
	assert.Contains(t, out, "Sources (2)")
	assert.Contains(t, out, "1. Rayleigh scattering")
	assert.Contains(t, out, "https://example.com/sky")
	assert.Contains(t, out, "light scatters")
	assert.Contains(t, out, "openai / gpt-3.5-turbo")

	reasoning := strings.Index(out, "Reasoning\n")
	answer := strings.Index(out, "Answer\n")
	require.NotEqual(t, -1, reasoning)
	require.NotEqual(t, -1, answer)
	assert.Less(t, reasoning, answer)
	assert.Less(t, answer, strings.Index(out, "blue"))
}

func TestPrinter_UnstructuredAnswerGetsHeading(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, 80)

	p.EmitDelta(pipeline.Delta{Content: "Paris.", Answer: "Paris."})
	p.EmitDelta(pipeline.Delta{Content: " Really.", Answer: " Really."})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Answer\n"))
	assert.Contains(t, out, "Paris. Really.")
}

func TestPrinter_Snapshot(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, 80)

	p.EmitDelta(pipeline.Delta{Content: "Sure.", Answer: "Sure."})
	p.EmitDelta(pipeline.Delta{
		Content:   "\nReasoning: x",
		Reasoning: "x",
		Snapshot:  &sections.SplitResult{Reasoning: "x"},
	})

	out := buf.String()
	assert.Contains(t, out, "Answer restructured")
	assert.True(t, strings.HasSuffix(out, "x\n"))
}

func TestPrinter_EmitError(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, 80)

	require.NoError(t, p.EmitError(errors.New("upstream closed")))
	assert.Contains(t, buf.String(), "Error: upstream closed")
}

func TestPrinter_PrintResult(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, 20)

	p.PrintResult(testResults, &pipeline.ResponderResultData{
		Provider: "deepseek",
		Model:    "deepseek-chat",
		Split: sections.SplitResult{
			Reasoning:   "Short wavelengths scatter more than long ones.",
			FinalAnswer: "The sky is blue.",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Reasoning\n")
	assert.Contains(t, out, "Answer\n")
	assert.Contains(t, out, "The sky is blue.")
	assert.Contains(t, out, "deepseek / deepseek-chat")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "wavelengths") || strings.Contains(line, "scatter") {
			assert.LessOrEqual(t, len(line), 20, "line %q not wrapped", line)
		}
	}
}

func TestPrinter_PrintResultWithoutReasoning(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, 80)

	p.PrintResult(nil, &pipeline.ResponderResultData{Split: sections.SplitResult{FinalAnswer: "42"}})

	out := buf.String()
	assert.Contains(t, out, "Sources (0)")
	assert.NotContains(t, out, "Reasoning")
	assert.Contains(t, out, "42")
}
