package history

import (
	"fmt"
	"strings"
)

const (
	pkConvPrefix   = "CONV#"
	pkTenantPrefix = "TENANT#"
	pkUserPrefix   = "USER#"
	skMsgPrefix    = "MSG#"
)

// ResolvePartition computes the partition key for a conversation. When both
// tenantID and userID are set the key is hierarchical, which isolates tenants
// and users and keeps per-user range scans cheap; otherwise the key is flat.
// The result is fixed for the life of the conversation, and the same function
// is applied to the derived archival conversation so an archived copy lands
// in its own stable partition.
func ResolvePartition(conversationID, tenantID, userID string) string {
	tenantID = strings.TrimSpace(tenantID)
	userID = strings.TrimSpace(userID)
	if tenantID != "" && userID != "" {
		return pkTenantPrefix + tenantID + "#" + pkUserPrefix + userID + "#" + pkConvPrefix + conversationID
	}
	return pkConvPrefix + conversationID
}

// messageSK builds the sort key for the seq-th document of a write issued at
// unix second ts with sub-second component nanos. Zero padding keeps lexical
// order equal to chronological order; the nanosecond component orders writes
// landing within the same second and the trailing sequence preserves input
// order within one write.
func messageSK(ts int64, nanos, seq int) string {
	return fmt.Sprintf("%s%012d#%09d#%06d", skMsgPrefix, ts, nanos, seq)
}

// archiveConversationID derives the identifier that receives pre-reduction
// history under the archive policy.
func archiveConversationID(conversationID string, ts int64) string {
	return fmt.Sprintf("%s_archived_%d", conversationID, ts)
}
