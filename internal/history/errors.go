package history

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// ErrMixedPartitions reports a single write call carrying documents for more
// than one partition. Detected before any document is submitted.
var ErrMixedPartitions = errors.New("history: documents in one write must share a partition")

// OversizedItemError reports a single document exceeding the backend's
// per-item size ceiling. There is no smaller unit to split into, so the write
// fails and is never retried.
type OversizedItemError struct {
	DocumentID string
	Partition  string
	Err        error
}

func (e *OversizedItemError) Error() string {
	return fmt.Sprintf("history: document %s in partition %s exceeds the item size limit: %v", e.DocumentID, e.Partition, e.Err)
}

func (e *OversizedItemError) Unwrap() error {
	return e.Err
}

// BatchRejectedError reports a multi-item batch failing for a reason other
// than size. Size rejections are recovered internally by splitting; anything
// else surfaces here with the backend detail and is not retried.
type BatchRejectedError struct {
	Partition string
	Size      int
	Err       error
}

func (e *BatchRejectedError) Error() string {
	return fmt.Sprintf("history: batch of %d documents rejected for partition %s: %v", e.Size, e.Partition, e.Err)
}

func (e *BatchRejectedError) Unwrap() error {
	return e.Err
}

// isSizeRejection reports whether the backend refused a request because a
// size ceiling was exceeded. DynamoDB signals both the per-item and the
// whole-request ceiling through a ValidationException whose message names the
// exceeded size limit.
func isSizeRejection(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	if ae.ErrorCode() != "ValidationException" {
		return false
	}
	msg := strings.ToLower(ae.ErrorMessage())
	return strings.Contains(msg, "size") && strings.Contains(msg, "exceed")
}
