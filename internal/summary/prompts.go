// ABOUTME: Prompt text and message formatting for the conversation summarizer
// ABOUTME: Lines are labeled by role relative to the initiator, never by username

package summary

import (
	"strings"

	"github.com/2389/helpdesk-gateway/internal/store"
)

const initialSystemPrompt = `You are a conversation summarizer. Create a brief 1-2 sentence summary
of the main question or issue being discussed.

Focus on WHAT the user needs help with, not who is involved.
Be concise and informative.`

const incrementalSystemPrompt = `You are updating a conversation summary. Given the previous summary and new messages,
provide an updated 1-2 sentence summary that incorporates important new information.

If the new messages don't add significant information, keep the summary mostly the same.
Focus on the core issue and any progress or new developments.`

const resolutionSystemPrompt = `You are summarizing a resolved conversation. Create a brief 1-2 sentence summary
that describes both the original problem AND how it was resolved.

Focus on: What was the issue? How was it solved?
Be concise and informative.`

func buildMessagesPrompt(conv *store.Conversation, msgs []*store.Message, instruction string) string {
	return "Conversation Title: " + conv.Title + "\n\nMessages:\n" +
		formatMessages(conv, msgs) + "\n\n" + instruction
}

func buildIncrementalPrompt(conv *store.Conversation, previous string, msgs []*store.Message) string {
	return "Previous summary: " + previous + "\n\nNew messages:\n" +
		formatMessages(conv, msgs) +
		"\n\nProvide an updated summary (1-2 sentences) that incorporates any important new information."
}

func formatMessages(conv *store.Conversation, msgs []*store.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := "Expert"
		if m.SenderID == conv.InitiatorID {
			role = "User"
		}
		lines = append(lines, role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
