package history

import "time"

const (
	// DefaultMaxPageSize bounds how many documents one query page requests.
	DefaultMaxPageSize = 100
	// DefaultMaxBatchSize is the hard backend ceiling on items per atomic
	// transaction. Options cannot raise it, only lower it.
	DefaultMaxBatchSize = 100
	// DefaultMessageTTL is the document expiry window applied when Options
	// leaves MessageTTL at zero.
	DefaultMessageTTL = 24 * time.Hour
)

// Policy selects what happens to stored history when a reducer shortens it.
type Policy string

const (
	// PolicyClear deletes the pre-reduction documents outright.
	PolicyClear Policy = "Clear"
	// PolicyArchive copies the pre-reduction documents to a
	// timestamp-suffixed archival conversation before deleting them.
	PolicyArchive Policy = "Archive"
)

// Options configures the repository and providers built over it. The zero
// value is usable: normalize fills in defaults and clamps the batch size to
// the backend ceiling.
type Options struct {
	MaxPageSize  int
	MaxBatchSize int
	// MaxMessagesToRetrieve caps reads to the newest K messages; zero reads
	// everything. A non-zero cap also disables reduction, because a caller
	// asking for a truncated view does not want stored history touched.
	MaxMessagesToRetrieve int
	// MessageTTL is the document expiry window. Zero selects
	// DefaultMessageTTL; a negative value disables expiry entirely.
	MessageTTL time.Duration
	Policy     Policy
	// TenantID and UserID switch partitioning to the hierarchical scheme
	// when both are set.
	TenantID     string
	UserID       string
	Capabilities Capabilities
}

func (o Options) normalize() Options {
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = DefaultMaxPageSize
	}
	if o.MaxBatchSize <= 0 || o.MaxBatchSize > DefaultMaxBatchSize {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.MaxMessagesToRetrieve < 0 {
		o.MaxMessagesToRetrieve = 0
	}
	if o.MessageTTL == 0 {
		o.MessageTTL = DefaultMessageTTL
	}
	if o.Policy == "" {
		o.Policy = PolicyClear
	}
	return o
}

// ttl returns the effective expiry window, zero when expiry is disabled.
func (o Options) ttl() time.Duration {
	if o.MessageTTL < 0 {
		return 0
	}
	return o.MessageTTL
}
