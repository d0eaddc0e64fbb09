package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/followup/internal/analyzer"
	"github.com/TobiSchelling/followup/internal/followup"
)

func testQueue() Queue {
	return Queue{
		Region:      "metro",
		GeneratedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Entries: []followup.QueueEntry{
			{
				ThreadID: 1, ThreadTitle: "Harbor bridge | repairs", Priority: 15, DaysSinceUpdate: 4.2,
				Suggestion: &analyzer.Suggestion{Angle: "explainer", Headline: "What the delay costs", Rationale: "Budget vote is near"},
			},
			{ThreadID: 2, ThreadTitle: "School budget", Priority: 3, DaysSinceUpdate: 0.5},
		},
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, testQueue()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "PRIORITY")
	assert.Contains(t, lines[1], "15.0")
	assert.Contains(t, lines[1], "[explainer] What the delay costs")
	assert.Contains(t, lines[1], "4d")
	assert.Contains(t, lines[2], "12h")
}

func TestTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, Queue{Region: "coast"}))
	assert.Equal(t, "No follow-ups needed for coast.\n", buf.String())
}

func TestMarkdown(t *testing.T) {
	out := Markdown(testQueue())
	assert.Contains(t, out, "# Follow-up queue: metro")
	assert.Contains(t, out, "_Generated 2026-03-10 12:00 UTC_")
	assert.Contains(t, out, `| 1 | 15.0 | Harbor bridge \| repairs | 4d | [explainer] What the delay costs |`)
	assert.Contains(t, out, "| 2 | 3.0 | School budget | 12h | - |")
	assert.Contains(t, out, "- **What the delay costs**: Budget vote is near")
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, testQueue()))
	out := buf.String()
	assert.Contains(t, out, "<title>Follow-up queue: metro</title>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<strong>What the delay costs</strong>")
}
