package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// BucketKey identifies one run's pending bucket.
type BucketKey struct {
	AgentPubkey    string
	ConversationID types.CorrelationID
	Run            types.RunNumber
}

// Registry is the pending-delegation table. Construct with New and pass by
// reference; Default exists for the common single-process wiring.
type Registry struct {
	logger *zap.Logger

	// mu guards the maps themselves. Bucket contents are additionally
	// serialized by a per-bucket lock so unrelated conversations do not
	// contend.
	mu        sync.RWMutex
	buckets   map[BucketKey][]PendingDelegation
	locks     map[BucketKey]*sync.Mutex
	pendingIx map[types.CorrelationID]BucketKey
	completed map[types.CorrelationID]*CompletedDelegation
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:    logger.With(zap.String("component", "delegation_registry")),
		buckets:   make(map[BucketKey][]PendingDelegation),
		locks:     make(map[BucketKey]*sync.Mutex),
		pendingIx: make(map[types.CorrelationID]BucketKey),
		completed: make(map[types.CorrelationID]*CompletedDelegation),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry, constructed lazily.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New(nil)
	})
	return defaultRegistry
}

// Reset clears all state. It exists to give tests a clean slate between
// cases; production code never calls it.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = make(map[BucketKey][]PendingDelegation)
	r.locks = make(map[BucketKey]*sync.Mutex)
	r.pendingIx = make(map[types.CorrelationID]BucketKey)
	r.completed = make(map[types.CorrelationID]*CompletedDelegation)
}

// lockFor returns the mutex serializing mutations of one bucket.
func (r *Registry) lockFor(key BucketKey) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// MergePending unions entries into the bucket. Entries whose delegation
// conversation id already exists are left untouched; new ones are appended.
// Entries with a new id are never dropped.
func (r *Registry) MergePending(agent types.AgentIdentity, conversationID types.CorrelationID, run types.RunNumber, entries []PendingDelegation) {
	if len(entries) == 0 {
		return
	}
	key := BucketKey{AgentPubkey: agent.Pubkey, ConversationID: conversationID, Run: run}
	lock := r.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	existing := r.buckets[key]
	r.mu.RUnlock()

	seen := make(map[types.CorrelationID]bool, len(existing))
	for _, e := range existing {
		seen[e.DelegationConversationID] = true
	}

	merged := existing
	added := 0
	for _, entry := range entries {
		if seen[entry.DelegationConversationID] {
			continue
		}
		seen[entry.DelegationConversationID] = true
		entry.RunNumber = run
		if entry.RegisteredAt.IsZero() {
			entry.RegisteredAt = time.Now()
		}
		merged = append(merged, entry)
		added++
	}

	r.mu.Lock()
	r.buckets[key] = merged
	for _, e := range merged {
		r.pendingIx[e.DelegationConversationID] = key
	}
	r.mu.Unlock()

	r.logger.Debug("pending delegations merged",
		zap.String("agent", agent.String()),
		zap.String("conversation_id", conversationID),
		zap.Int64("run", int64(run)),
		zap.Int("added", added),
		zap.Int("bucket_size", len(merged)),
	)
}

// SetPending replaces the bucket wholesale. Used when the caller has
// already computed the desired merged list.
func (r *Registry) SetPending(agent types.AgentIdentity, conversationID types.CorrelationID, run types.RunNumber, entries []PendingDelegation) {
	key := BucketKey{AgentPubkey: agent.Pubkey, ConversationID: conversationID, Run: run}
	lock := r.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	// Unindex entries that are being replaced away.
	for _, old := range r.buckets[key] {
		if ix, ok := r.pendingIx[old.DelegationConversationID]; ok && ix == key {
			delete(r.pendingIx, old.DelegationConversationID)
		}
	}
	copied := make([]PendingDelegation, len(entries))
	copy(copied, entries)
	for i := range copied {
		copied[i].RunNumber = run
		if copied[i].RegisteredAt.IsZero() {
			copied[i].RegisteredAt = time.Now()
		}
		r.pendingIx[copied[i].DelegationConversationID] = key
	}
	r.buckets[key] = copied
	r.mu.Unlock()
}

// ConversationPending returns a copy of the bucket, empty if none.
func (r *Registry) ConversationPending(agent types.AgentIdentity, conversationID types.CorrelationID, run types.RunNumber) []PendingDelegation {
	key := BucketKey{AgentPubkey: agent.Pubkey, ConversationID: conversationID, Run: run}
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.buckets[key]
	out := make([]PendingDelegation, len(bucket))
	copy(out, bucket)
	return out
}

// FindDelegation reverse-looks-up a delegation by its conversation id,
// independent of which run or agent registered it. Both the pending and
// completed stores are checked: a delegation may legitimately be
// followed-up on after its owning run has been cleared.
func (r *Registry) FindDelegation(delegationConversationID types.CorrelationID) Lookup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if key, ok := r.pendingIx[delegationConversationID]; ok {
		for i := range r.buckets[key] {
			if r.buckets[key][i].DelegationConversationID == delegationConversationID {
				entry := r.buckets[key][i]
				owner := key
				return Lookup{Pending: &entry, Owner: &owner}
			}
		}
	}
	if done, ok := r.completed[delegationConversationID]; ok {
		copied := *done
		return Lookup{Completed: &copied}
	}
	return Lookup{}
}

// MarkCompleted transitions a pending delegation to completed exactly once.
// The second return is false when the id is unknown or already completed;
// the already-completed record is still returned so callers can resolve
// the recipient idempotently.
func (r *Registry) MarkCompleted(delegationConversationID types.CorrelationID, replyEventID, replyContent string) (*CompletedDelegation, bool) {
	for {
		r.mu.RLock()
		if done, ok := r.completed[delegationConversationID]; ok {
			copied := *done
			r.mu.RUnlock()
			return &copied, false
		}
		key, ok := r.pendingIx[delegationConversationID]
		r.mu.RUnlock()
		if !ok {
			return nil, false
		}

		// Same lock order as MergePending and SetPending: the bucket lock
		// first, then the table lock. Without the bucket lock a concurrent
		// merge could write back a stale union that resurrects the entry
		// this call is completing.
		lock := r.lockFor(key)
		lock.Lock()

		r.mu.Lock()
		if done, ok := r.completed[delegationConversationID]; ok {
			copied := *done
			r.mu.Unlock()
			lock.Unlock()
			return &copied, false
		}
		current, stillPending := r.pendingIx[delegationConversationID]
		if !stillPending {
			r.mu.Unlock()
			lock.Unlock()
			return nil, false
		}
		if current != key {
			// The entry's bucket changed while the lock was being
			// acquired; retry against the current one.
			r.mu.Unlock()
			lock.Unlock()
			continue
		}

		bucket := r.buckets[key]
		for i := range bucket {
			if bucket[i].DelegationConversationID != delegationConversationID {
				continue
			}
			done := &CompletedDelegation{
				PendingDelegation: bucket[i],
				ReplyEventID:      replyEventID,
				ReplyContent:      replyContent,
				CompletedAt:       time.Now(),
			}
			r.buckets[key] = append(bucket[:i:i], bucket[i+1:]...)
			delete(r.pendingIx, delegationConversationID)
			r.completed[delegationConversationID] = done
			r.mu.Unlock()
			lock.Unlock()

			r.logger.Debug("delegation completed",
				zap.String("delegation_conversation_id", delegationConversationID),
				zap.String("recipient", done.Recipient.String()),
				zap.String("kind", string(done.Kind)),
			)
			copied := *done
			return &copied, true
		}
		r.mu.Unlock()
		lock.Unlock()
		return nil, false
	}
}

// ClearRun drops a run's pending bucket. Completed entries survive in the
// completed store.
func (r *Registry) ClearRun(agent types.AgentIdentity, conversationID types.CorrelationID, run types.RunNumber) {
	key := BucketKey{AgentPubkey: agent.Pubkey, ConversationID: conversationID, Run: run}
	lock := r.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	for _, e := range r.buckets[key] {
		if ix, ok := r.pendingIx[e.DelegationConversationID]; ok && ix == key {
			delete(r.pendingIx, e.DelegationConversationID)
		}
	}
	delete(r.buckets, key)
	delete(r.locks, key)
	r.mu.Unlock()
}

// PendingCount returns the total number of pending entries across all
// buckets, for metrics.
func (r *Registry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.buckets {
		n += len(b)
	}
	return n
}
