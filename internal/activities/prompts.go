package activities

import (
	"fmt"
	"strings"

	"github.com/inquest-ai/orchestrator/internal/llm"
	"github.com/inquest-ai/orchestrator/internal/models"
)

const decisionFormat = `Respond with a single JSON object, nothing else. Two forms are accepted:

To use a tool:
{"type":"tool_call","thought":"<why this step>","action":{"tool":"<name>","input":{...}}}

To finish:
{"type":"final_answer","thought":"<summary of reasoning>","finalAnswer":{"answer":"<the answer>","confidence":<0..1>,"citations":[{"source":"...","url":"...","snippet":"..."}]}}`

const strictFormatReminder = "Your previous response was not valid JSON. Respond with valid structured output only: a single JSON object in one of the two documented forms, with no surrounding prose or code fences."

func systemPrompt(toolCatalog string, qctx *models.QueryContext) string {
	var b strings.Builder
	b.WriteString("You are a research agent. You work in reason-act-observe cycles: ")
	b.WriteString("think about what information is still missing, call one tool to fetch it, ")
	b.WriteString("study the observation, and finish with a cited answer once you know enough.\n\n")
	b.WriteString("Available tools:\n")
	b.WriteString(toolCatalog)
	b.WriteString("\n")
	if qctx != nil {
		if qctx.Industry != "" {
			fmt.Fprintf(&b, "Industry focus: %s\n", qctx.Industry)
		}
		if qctx.Timeframe != "" {
			fmt.Fprintf(&b, "Timeframe of interest: %s\n", qctx.Timeframe)
		}
		if len(qctx.PreferredSources) > 0 {
			fmt.Fprintf(&b, "Preferred sources: %s\n", strings.Join(qctx.PreferredSources, ", "))
		}
	}
	b.WriteString("\n")
	b.WriteString(decisionFormat)
	return b.String()
}

// buildConversation assembles the chat history: the original question, then
// for every prior iteration its thought/action as an assistant turn and its
// observation as a user turn prompting continuation.
func buildConversation(in ReasonInput, toolCatalog string) []llm.Message {
	msgs := make([]llm.Message, 0, 2+2*len(in.Iterations))
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt(toolCatalog, in.Context)})
	msgs = append(msgs, llm.Message{Role: "user", Content: fmt.Sprintf("Research question: %s", in.Question)})

	for _, it := range in.Iterations {
		var turn strings.Builder
		fmt.Fprintf(&turn, "Thought: %s", it.Thought)
		if it.Action != nil {
			fmt.Fprintf(&turn, "\nAction: %s %s", it.Action.Tool, compactArgs(it.Action.Input))
		}
		msgs = append(msgs, llm.Message{Role: "assistant", Content: turn.String()})

		observation := it.Observation
		if observation == "" {
			observation = "(no observation recorded)"
		}
		msgs = append(msgs, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("Observation: %s\n\nContinue. Use another tool or produce a final answer.", observation),
		})
	}
	return msgs
}

// forcedSynthesisPrompt asks for a best-effort answer from the accumulated
// observations when the iteration cap was hit without a final decision.
func forcedSynthesisPrompt(question string, iterations []models.Iteration) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "The research budget for this question is exhausted: %s\n\n", question)
	b.WriteString("Observations gathered so far:\n")
	for _, it := range iterations {
		if it.Observation == "" {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", it.Sequence, it.Observation)
	}
	b.WriteString("\nWrite the best answer you can from these observations alone. ")
	b.WriteString("Explicitly acknowledge any gaps or uncertainty. ")
	b.WriteString("Respond with a single JSON object:\n")
	b.WriteString(`{"type":"final_answer","thought":"...","finalAnswer":{"answer":"...","confidence":<0..1>,"citations":[]}}`)

	return []llm.Message{
		{Role: "system", Content: "You are a research agent summarizing incomplete findings."},
		{Role: "user", Content: b.String()},
	}
}

func compactArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
