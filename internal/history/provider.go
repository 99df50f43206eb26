package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"concierge-agent/internal/domain"
)

// repositoryAPI is the storage surface a Provider drives. *Repository
// satisfies it; provider tests substitute a fake.
type repositoryAPI interface {
	WriteDocuments(ctx context.Context, docs []domain.MessageDocument) (float64, error)
	QueryDocuments(ctx context.Context, partition, conversationID string, limit int) ([]domain.MessageDocument, float64, error)
	CountDocuments(ctx context.Context, partition, conversationID string) (int, float64, error)
	DeleteConversation(ctx context.Context, partition, conversationID string) (int, float64, error)
	PutDocument(ctx context.Context, doc domain.MessageDocument) (float64, error)
}

// Provider owns the message history of a single conversation. The partition
// key is resolved once at construction and reused for every read, write and
// archival operation, so a conversation's partition never changes. Providers
// assume a single writer per conversation; the shared repository underneath
// is safe to reuse across many providers.
type Provider struct {
	repo           repositoryAPI
	opts           Options
	conversationID string
	partition      string
	reducer        Reducer
	logger         *slog.Logger
	now            func() time.Time
}

// RetentionDecision describes the outcome of one read-reduce cycle. It is
// ephemeral: computed, logged and discarded within a single Messages call,
// never shared across conversations or persisted.
type RetentionDecision struct {
	Reduced bool
	Dropped int
	Policy  Policy
}

// NewProvider creates a Provider for one conversation. The reducer is
// optional; nil means history is returned as stored.
func NewProvider(repo repositoryAPI, conversationID string, opts Options, reducer Reducer) (*Provider, error) {
	if repo == nil {
		return nil, errors.New("history: repository must not be nil")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("history: conversation id must not be empty")
	}
	opts = opts.normalize()
	return &Provider{
		repo:           repo,
		opts:           opts,
		conversationID: conversationID,
		partition:      ResolvePartition(conversationID, opts.TenantID, opts.UserID),
		reducer:        reducer,
		logger:         slog.Default(),
		now:            time.Now,
	}, nil
}

// ConversationID returns the identifier this provider serves.
func (p *Provider) ConversationID() string {
	return p.conversationID
}

// Messages returns the conversation history oldest-first. With no configured
// retrieval cap and a reducer present, a shortened reducer result triggers a
// rewrite of stored history under the configured policy; a cap skips
// reduction entirely, since a caller asking for a truncated view does not
// want stored history touched. Documents with empty payloads are dropped
// silently.
func (p *Provider) Messages(ctx context.Context) ([]domain.ChatMessage, error) {
	limit := p.opts.MaxMessagesToRetrieve
	docs, cost, err := p.repo.QueryDocuments(ctx, p.partition, p.conversationID, limit)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeAll(docs)
	if err != nil {
		return nil, err
	}
	if limit > 0 || p.reducer == nil {
		return msgs, nil
	}

	reduced, err := p.reducer.Reduce(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("history: reduce conversation %s: %w", p.conversationID, err)
	}
	if len(reduced) >= len(msgs) {
		// The reducer may rewrite content without shortening; that result
		// is passed through with zero storage mutation.
		return reduced, nil
	}

	decision := RetentionDecision{Reduced: true, Dropped: len(msgs) - len(reduced), Policy: p.opts.Policy}
	rewriteCost, err := p.rewrite(ctx, docs, reduced)
	cost += rewriteCost
	if err != nil {
		return nil, err
	}
	p.logger.Debug("conversation history reduced",
		"conversationId", p.conversationID,
		"dropped", decision.Dropped,
		"kept", len(reduced),
		"policy", string(decision.Policy),
		"consumedCapacity", cost,
	)
	return reduced, nil
}

// rewrite replaces stored history with the reduced set. Under the archive
// policy the pre-reduction documents are copied out first. Copy, delete and
// write are three independent operations against up to two partitions; a
// crash in between leaves the archived copies as the durable safety net.
// This is an accepted at-least-once guarantee, not exactly-once.
func (p *Provider) rewrite(ctx context.Context, docs []domain.MessageDocument, reduced []domain.ChatMessage) (float64, error) {
	var cost float64
	if p.opts.Policy == PolicyArchive {
		c, err := p.archive(ctx, docs)
		cost += c
		if err != nil {
			return cost, err
		}
	}
	_, c, err := p.repo.DeleteConversation(ctx, p.partition, p.conversationID)
	cost += c
	if err != nil {
		return cost, err
	}
	c, err = p.write(ctx, reduced)
	cost += c
	return cost, err
}

// archive copies every document to a timestamp-suffixed archival conversation
// with fresh ids. The copies live in a different partition than the source
// and so cannot ride the source partition's atomic batch; they are created
// individually. Archival conversations are an append-only audit log tolerant
// of duplication: a crash between copy and delete is repaired by nothing and
// simply leaves an extra archived generation.
func (p *Provider) archive(ctx context.Context, docs []domain.MessageDocument) (float64, error) {
	archiveID := archiveConversationID(p.conversationID, p.now().Unix())
	partition := ResolvePartition(archiveID, p.opts.TenantID, p.opts.UserID)

	var cost float64
	for i := range docs {
		copied := docs[i]
		copied.ID = uuid.NewString()
		copied.PK = partition
		copied.ConversationID = archiveID
		if copied.SessionID != "" {
			copied.SessionID = archiveID
		}
		c, err := p.repo.PutDocument(ctx, copied)
		cost += c
		if err != nil {
			return cost, fmt.Errorf("history: archive conversation %s: %w", p.conversationID, err)
		}
	}
	return cost, nil
}

// RecordTurn persists the given message groups as one write, in order. Every
// document of the write shares the write's timestamp; input order is
// preserved by the sort-key sequence. Empty input is a no-op. Callers must
// invoke this only after a turn completes successfully, so failed turns
// leave no trace in storage.
func (p *Provider) RecordTurn(ctx context.Context, groups ...[]domain.ChatMessage) error {
	var msgs []domain.ChatMessage
	for _, g := range groups {
		msgs = append(msgs, g...)
	}
	_, err := p.write(ctx, msgs)
	return err
}

func (p *Provider) write(ctx context.Context, msgs []domain.ChatMessage) (float64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	now := p.now()
	docs := make([]domain.MessageDocument, 0, len(msgs))
	for i, m := range msgs {
		doc, err := encodeMessage(m, encodeInput{
			ConversationID: p.conversationID,
			Partition:      p.partition,
			Timestamp:      now.Unix(),
			Nanos:          now.Nanosecond(),
			Seq:            i,
			TTL:            p.opts.ttl(),
			TenantID:       p.opts.TenantID,
			UserID:         p.opts.UserID,
		})
		if err != nil {
			return 0, err
		}
		docs = append(docs, doc)
	}
	return p.repo.WriteDocuments(ctx, docs)
}

// Clear removes all stored history for the conversation.
func (p *Provider) Clear(ctx context.Context) error {
	_, _, err := p.repo.DeleteConversation(ctx, p.partition, p.conversationID)
	return err
}

// Count reports the number of stored chat-message documents.
func (p *Provider) Count(ctx context.Context) (int, error) {
	n, _, err := p.repo.CountDocuments(ctx, p.partition, p.conversationID)
	return n, err
}

func decodeAll(docs []domain.MessageDocument) ([]domain.ChatMessage, error) {
	msgs := make([]domain.ChatMessage, 0, len(docs))
	for i := range docs {
		msg, ok, err := decodeMessage(docs[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ProviderState is the serializable identity of a Provider. Persist it next
// to application session state and hand it back to NewProviderFromState to
// rebuild an equivalent provider without re-deriving partition logic.
type ProviderState struct {
	ConversationID string       `json:"conversationId"`
	TenantID       string       `json:"tenantId,omitempty"`
	UserID         string       `json:"userId,omitempty"`
	Policy         Policy       `json:"reductionPolicy"`
	Capabilities   Capabilities `json:"capabilities"`
}

// State returns the provider's serializable identity.
func (p *Provider) State() ProviderState {
	return ProviderState{
		ConversationID: p.conversationID,
		TenantID:       p.opts.TenantID,
		UserID:         p.opts.UserID,
		Policy:         p.opts.Policy,
		Capabilities:   p.opts.Capabilities,
	}
}

// Marshal serializes the state for persistence alongside session data.
func (s ProviderState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// ParseProviderState deserializes a persisted snapshot.
func ParseProviderState(data []byte) (ProviderState, error) {
	var s ProviderState
	if err := json.Unmarshal(data, &s); err != nil {
		return ProviderState{}, fmt.Errorf("history: parse provider state: %w", err)
	}
	if strings.TrimSpace(s.ConversationID) == "" {
		return ProviderState{}, errors.New("history: provider state missing conversation id")
	}
	return s, nil
}

// NewProviderFromState rebuilds a provider from a persisted snapshot. The
// snapshot's identity fields override the corresponding Options fields. A
// restored conversation that has no stored documents yet is simply empty;
// restoring is never a not-found error.
func NewProviderFromState(repo repositoryAPI, state ProviderState, opts Options, reducer Reducer) (*Provider, error) {
	opts.TenantID = state.TenantID
	opts.UserID = state.UserID
	opts.Capabilities = state.Capabilities
	if state.Policy != "" {
		opts.Policy = state.Policy
	}
	return NewProvider(repo, state.ConversationID, opts, reducer)
}

// ProviderFactory builds per-conversation providers over one shared
// repository.
type ProviderFactory struct {
	repo    repositoryAPI
	opts    Options
	reducer Reducer
}

// NewProviderFactory creates a factory applying the same options and reducer
// to every provider it builds.
func NewProviderFactory(repo repositoryAPI, opts Options, reducer Reducer) (*ProviderFactory, error) {
	if repo == nil {
		return nil, errors.New("history: repository must not be nil")
	}
	return &ProviderFactory{repo: repo, opts: opts.normalize(), reducer: reducer}, nil
}

// ProviderFor returns a provider for the given conversation.
func (f *ProviderFactory) ProviderFor(conversationID string) (*Provider, error) {
	return NewProvider(f.repo, conversationID, f.opts, f.reducer)
}

// Restore rebuilds a provider from a persisted state snapshot.
func (f *ProviderFactory) Restore(state ProviderState) (*Provider, error) {
	return NewProviderFromState(f.repo, state, f.opts, f.reducer)
}
