package history

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"concierge-agent/internal/domain"
)

// encodeInput carries the write-scoped fields shared by every document of one
// write call.
type encodeInput struct {
	ConversationID string
	Partition      string
	Timestamp      int64
	Nanos          int
	Seq            int
	TTL            time.Duration
	TenantID       string
	UserID         string
}

// encodeMessage converts an application message into a storage document. The
// document id is always freshly generated, never derived from content, so
// retries and archival copies cannot collide. The message payload is stored
// as an opaque blob and round-tripped byte-for-byte.
func encodeMessage(msg domain.ChatMessage, in encodeInput) (domain.MessageDocument, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return domain.MessageDocument{}, fmt.Errorf("history: encode message for conversation %s: %w", in.ConversationID, err)
	}
	doc := domain.MessageDocument{
		PK:                in.Partition,
		SK:                messageSK(in.Timestamp, in.Nanos, in.Seq),
		ID:                uuid.NewString(),
		ConversationID:    in.ConversationID,
		Timestamp:         in.Timestamp,
		MessageID:         msg.ID,
		Role:              msg.Role,
		SerializedMessage: string(payload),
		DocumentType:      domain.DocTypeChatMessage,
	}
	if in.TTL > 0 {
		doc.ExpiresAt = in.Timestamp + int64(in.TTL/time.Second)
	}
	if strings.TrimSpace(in.TenantID) != "" && strings.TrimSpace(in.UserID) != "" {
		doc.TenantID = in.TenantID
		doc.UserID = in.UserID
		doc.SessionID = in.ConversationID
	}
	return doc, nil
}

// decodeMessage recovers the application message from a document. An empty
// payload is reported as skip (ok=false), never as an error; the read
// pipeline drops such documents silently.
func decodeMessage(doc domain.MessageDocument) (domain.ChatMessage, bool, error) {
	if strings.TrimSpace(doc.SerializedMessage) == "" {
		return domain.ChatMessage{}, false, nil
	}
	var msg domain.ChatMessage
	if err := json.Unmarshal([]byte(doc.SerializedMessage), &msg); err != nil {
		return domain.ChatMessage{}, false, fmt.Errorf("history: decode document %s: %w", doc.ID, err)
	}
	return msg, true, nil
}

func documentItem(doc domain.MessageDocument) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":                &types.AttributeValueMemberS{Value: doc.PK},
		"SK":                &types.AttributeValueMemberS{Value: doc.SK},
		"id":                &types.AttributeValueMemberS{Value: doc.ID},
		"conversationId":    &types.AttributeValueMemberS{Value: doc.ConversationID},
		"timestamp":         &types.AttributeValueMemberN{Value: strconv.FormatInt(doc.Timestamp, 10)},
		"role":              &types.AttributeValueMemberS{Value: doc.Role},
		"serializedMessage": &types.AttributeValueMemberS{Value: doc.SerializedMessage},
		"documentType":      &types.AttributeValueMemberS{Value: doc.DocumentType},
	}
	if doc.MessageID != "" {
		item["messageId"] = &types.AttributeValueMemberS{Value: doc.MessageID}
	}
	if doc.ExpiresAt > 0 {
		item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(doc.ExpiresAt, 10)}
	}
	if doc.TenantID != "" {
		item["tenantId"] = &types.AttributeValueMemberS{Value: doc.TenantID}
	}
	if doc.UserID != "" {
		item["userId"] = &types.AttributeValueMemberS{Value: doc.UserID}
	}
	if doc.SessionID != "" {
		item["sessionId"] = &types.AttributeValueMemberS{Value: doc.SessionID}
	}
	return item
}

func itemToDocument(item map[string]types.AttributeValue) (domain.MessageDocument, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.MessageDocument{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.MessageDocument{}, err
	}
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.MessageDocument{}, err
	}
	conversationID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.MessageDocument{}, err
	}
	ts, err := int64Attr(item, "timestamp")
	if err != nil {
		return domain.MessageDocument{}, err
	}
	docType, err := strAttr(item, "documentType")
	if err != nil {
		return domain.MessageDocument{}, err
	}

	doc := domain.MessageDocument{
		PK:             pk,
		SK:             sk,
		ID:             id,
		ConversationID: conversationID,
		Timestamp:      ts,
		DocumentType:   docType,
	}
	doc.Role, _ = optStrAttr(item, "role")
	doc.SerializedMessage, _ = optStrAttr(item, "serializedMessage")
	doc.MessageID, _ = optStrAttr(item, "messageId")
	doc.TenantID, _ = optStrAttr(item, "tenantId")
	doc.UserID, _ = optStrAttr(item, "userId")
	doc.SessionID, _ = optStrAttr(item, "sessionId")
	if _, ok := item["expiresAt"]; ok {
		doc.ExpiresAt, err = int64Attr(item, "expiresAt")
		if err != nil {
			return domain.MessageDocument{}, err
		}
	}
	return doc, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("history: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("history: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) (string, bool) {
	s, ok := item[key].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("history: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("history: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("history: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
