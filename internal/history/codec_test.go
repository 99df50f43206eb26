package history

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"concierge-agent/internal/domain"
)

func testEncodeInput() encodeInput {
	return encodeInput{
		ConversationID: "conv-1",
		Partition:      "CONV#conv-1",
		Timestamp:      1756700000,
		Nanos:          123456789,
		Seq:            2,
	}
}

func TestEncodeMessage_RoundTrip(t *testing.T) {
	msg := domain.ChatMessage{ID: "app-msg-7", Role: "assistant", Content: "The bistro closes at 23:00."}
	doc, err := encodeMessage(msg, testEncodeInput())
	require.NoError(t, err)

	restored, err := itemToDocument(documentItem(doc))
	require.NoError(t, err)
	require.Equal(t, doc, restored)

	decoded, ok, err := decodeMessage(restored)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, msg, decoded)
}

func TestEncodeMessage_FreshIDs(t *testing.T) {
	msg := domain.ChatMessage{Role: "user", Content: "same message"}
	a, err := encodeMessage(msg, testEncodeInput())
	require.NoError(t, err)
	b, err := encodeMessage(msg, testEncodeInput())
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}

func TestEncodeMessage_TTL(t *testing.T) {
	in := testEncodeInput()
	in.TTL = time.Hour
	doc, err := encodeMessage(domain.ChatMessage{Role: "user", Content: "hi"}, in)
	require.NoError(t, err)
	require.Equal(t, in.Timestamp+3600, doc.ExpiresAt)

	in.TTL = 0
	doc, err = encodeMessage(domain.ChatMessage{Role: "user", Content: "hi"}, in)
	require.NoError(t, err)
	require.Zero(t, doc.ExpiresAt)
	_, hasTTL := documentItem(doc)["expiresAt"]
	require.False(t, hasTTL)
}

func TestEncodeMessage_HierarchicalFields(t *testing.T) {
	in := testEncodeInput()
	in.TenantID = "acme"
	in.UserID = "u-9"
	doc, err := encodeMessage(domain.ChatMessage{Role: "user", Content: "hi"}, in)
	require.NoError(t, err)
	require.Equal(t, "acme", doc.TenantID)
	require.Equal(t, "u-9", doc.UserID)
	require.Equal(t, "conv-1", doc.SessionID)

	in.UserID = ""
	doc, err = encodeMessage(domain.ChatMessage{Role: "user", Content: "hi"}, in)
	require.NoError(t, err)
	require.Empty(t, doc.TenantID)
	require.Empty(t, doc.SessionID)
}

func TestDecodeMessage_EmptyPayloadSkips(t *testing.T) {
	for _, payload := range []string{"", "   "} {
		_, ok, err := decodeMessage(domain.MessageDocument{ID: "d-1", SerializedMessage: payload})
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestDecodeMessage_MalformedPayload(t *testing.T) {
	_, ok, err := decodeMessage(domain.MessageDocument{ID: "d-1", SerializedMessage: "{not-json"})
	require.Error(t, err)
	require.False(t, ok)
	require.Contains(t, err.Error(), "d-1")
}

func TestItemToDocument_MissingRequiredAttribute(t *testing.T) {
	doc, err := encodeMessage(domain.ChatMessage{Role: "user", Content: "hi"}, testEncodeInput())
	require.NoError(t, err)
	item := documentItem(doc)
	delete(item, "id")
	_, err = itemToDocument(item)
	require.Error(t, err)
	require.Contains(t, err.Error(), `"id"`)
}

func TestItemToDocument_WrongAttributeType(t *testing.T) {
	doc, err := encodeMessage(domain.ChatMessage{Role: "user", Content: "hi"}, testEncodeInput())
	require.NoError(t, err)
	item := documentItem(doc)
	item["timestamp"] = &types.AttributeValueMemberS{Value: "not-a-number"}
	_, err = itemToDocument(item)
	require.Error(t, err)
}
