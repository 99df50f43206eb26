package domain

// DocTypeChatMessage scopes history queries against a table that may hold
// other document kinds under the same partition.
const DocTypeChatMessage = "ChatMessage"

// MessageDocument is the persisted unit of conversation history. Documents
// are created by writes, read non-destructively, and removed only by explicit
// deletion or TTL expiry; stored documents are never mutated in place.
type MessageDocument struct {
	// PK is the partition key, fixed for the life of the conversation.
	PK string
	// SK sorts documents so that lexical order equals chronological order
	// with input order preserved within one write.
	SK string
	// ID is globally unique per write and never reused, even when a
	// logically identical message is re-stored during reduction.
	ID             string
	ConversationID string
	// Timestamp is unix seconds; every document of one write shares it.
	Timestamp int64
	MessageID string
	Role      string
	// SerializedMessage is an opaque payload round-tripped byte-for-byte.
	SerializedMessage string
	DocumentType      string
	// ExpiresAt is the unix-seconds TTL target; zero means never expires.
	ExpiresAt int64
	// TenantID, UserID and SessionID are populated only under hierarchical
	// partitioning.
	TenantID  string
	UserID    string
	SessionID string
}
