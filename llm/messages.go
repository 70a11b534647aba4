package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"

	"github.com/tinfoilsh/reasoning-search/pipeline"
	"github.com/tinfoilsh/reasoning-search/search"
)

// SystemPrompt asks the model for the two-part layout the section splitter reads
const SystemPrompt = `You are an AI assistant that specializes in step-by-step reasoning and providing well-supported answers.
Your response must follow this exact format:

Step-by-step reasoning:
[Your detailed reasoning process, including:
1. Analysis of the question
2. Key points from the search results
3. Logical connections and deductions
4. Consideration of different perspectives
5. Final synthesis]

Final Answer:
[Your concise, well-supported answer based on the reasoning above]

Guidelines:
1. Break down your reasoning into clear, logical steps
2. Use specific information from the search results to support your reasoning
3. Consider multiple perspectives when relevant
4. Provide a clear, concise final answer that directly addresses the question
5. Always maintain this exact format with the headers "Step-by-step reasoning:" and "Final Answer:"
6. Keep the reasoning section detailed but organized
7. Make the final answer concise and actionable`

const userPromptTemplate = `Based on the following search results, please provide a comprehensive and detailed response.

First, carefully analyze the information and provide your step-by-step reasoning process. Consider different aspects, verify facts from multiple sources, and explain your thought process thoroughly.

Then, provide a comprehensive final answer that synthesizes all the relevant information. Make sure the answer is detailed, well-structured, and addresses the question completely.

Question: %s

Search Results:
%s

Please structure your response as follows:

Step-by-step reasoning:
[Your detailed reasoning process here - analyze the search results, compare information, verify facts, and explain your thinking]

Final Answer:
[Your comprehensive and detailed answer here - synthesize the information into a complete response]`

// MessageBuilder constructs message arrays for the responder LLM
type MessageBuilder struct {
	systemPrompt string
}

// NewMessageBuilder creates a MessageBuilder using SystemPrompt
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{systemPrompt: SystemPrompt}
}

// Build creates the message array: system prompt, prior turns, then the
// question with its search results
func (b *MessageBuilder) Build(query string, history []pipeline.Message, results []search.Result) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if b.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(b.systemPrompt))
	}

	messages = append(messages, ConvertMessages(history)...)
	messages = append(messages, openai.UserMessage(FormatUserPrompt(query, results)))
	return messages
}

// ConvertMessages maps chat messages to openai params, dropping unknown roles and empty content
func ConvertMessages(msgs []pipeline.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	return messages
}

// WithSystemPrompt prepends SystemPrompt to msgs
func WithSystemPrompt(msgs []openai.ChatCompletionMessageParamUnion) []openai.ChatCompletionMessageParamUnion {
	return append([]openai.ChatCompletionMessageParamUnion{openai.SystemMessage(SystemPrompt)}, msgs...)
}

// FormatUserPrompt renders the question and its results as the final user message
func FormatUserPrompt(query string, results []search.Result) string {
	if results == nil {
		results = []search.Result{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		data = []byte("[]")
	}
	return fmt.Sprintf(userPromptTemplate, query, data)
}
