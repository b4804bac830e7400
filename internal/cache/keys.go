// ABOUTME: Cache key builders and TTLs shared by every component
// ABOUTME: Writers and readers must agree on these names for invalidation to work

package cache

import (
	"fmt"
	"time"
)

const (
	EligibleExpertsKey = "auto_assign:eligible_experts"

	EligibleExpertsTTL   = 5 * time.Minute
	MessagesTTL          = 10 * time.Second
	ConversationsTTL     = 10 * time.Second
	FAQContentTTL        = 12 * time.Hour
	AssignmentHistoryTTL = 2 * time.Minute
)

// MessagesKey is the message list of a conversation.
func MessagesKey(conversationID int64) string {
	return fmt.Sprintf("messages:index:conversation:%d", conversationID)
}

// ConversationsKey is the conversation list rendered for one viewer.
func ConversationsKey(userID int64) string {
	return fmt.Sprintf("conversations:index:user:%d", userID)
}

// FAQContentKey is the compressed knowledge base of an expert's current link set.
func FAQContentKey(expertID int64, fingerprint string) string {
	return fmt.Sprintf("faq:content:expert:%d:%s", expertID, fingerprint)
}

// AssignmentHistoryKey is the assignment history of an expert.
func AssignmentHistoryKey(expertID int64) string {
	return fmt.Sprintf("expert:assignments:history:expert:%d", expertID)
}
