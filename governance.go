package cortex

import "context"

// gdprCollections lists every collection a GDPR cascade must visit, in the
// order below.
var gdprCollections = []string{
	"conversations", "immutable", "mutable", "memories",
	"facts", "factHistory", "contexts", "graphSyncQueue",
}

// Governance enforces retention policies and drives the resumable
// GDPR deletion cascade. It operates directly on a Store (already wrapped by
// envelope.WrapStore by the caller) rather than through Client, since
// enforcement runs are typically scheduled independently of the
// remember/recall hot path.
type Governance struct {
	store  Store
	graph  GraphAdapter
	tracer Tracer
}

// GovernanceOption configures a Governance.
type GovernanceOption func(*Governance)

// WithGovernanceGraphAdapter sets the graph adapter used to mirror GDPR
// deletions. Optional.
func WithGovernanceGraphAdapter(g GraphAdapter) GovernanceOption {
	return func(gv *Governance) { gv.graph = g }
}

// WithGovernanceTracer sets the Tracer for a Governance instance.
func WithGovernanceTracer(t Tracer) GovernanceOption {
	return func(gv *Governance) { gv.tracer = t }
}

// NewGovernance builds a Governance bound to store.
func NewGovernance(store Store, opts ...GovernanceOption) *Governance {
	g := &Governance{store: store, tracer: NoopTracer{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnforceRetention runs one retention policy to completion and records a
// governanceEnforcement row. Idempotent: a record's current version is never
// removed if doing so would leave its primary key inaccessible.
func (g *Governance) EnforceRetention(ctx context.Context, policy RetentionPolicy, typ string) (GovernanceEnforcement, error) {
	_, span := g.tracer.Start(ctx, "cortex.EnforceRetention", StringAttr("policyId", policy.PolicyID))
	defer span.End()

	now := NowMillis()
	var versionsDeleted, recordsPurged int
	var storageFreed int64

	records, err := g.store.ListImmutable(ctx, typ, "", "", 0)
	if err != nil {
		span.Error(err)
		return GovernanceEnforcement{}, err
	}

	for _, rec := range records {
		keep := shouldKeepVersions(rec, policy, now)
		if keep < len(rec.PreviousVersions) {
			dropped, err := g.store.TrimImmutableVersions(ctx, typ, rec.ID, keep)
			if err != nil {
				span.Error(err)
				return GovernanceEnforcement{}, err
			}
			versionsDeleted += dropped
		}
		if policy.MaxAgeMs > 0 && now-rec.CreatedAt > policy.MaxAgeMs {
			if policy.ArchiveBeforeDelete {
				// archival is a no-op placeholder: callers that need archival
				// storage wire their own export via ExportImmutable-style calls
				// before invoking EnforceRetention with this policy.
			}
			if err := g.store.PurgeImmutable(ctx, typ, rec.ID); err != nil {
				span.Error(err)
				return GovernanceEnforcement{}, err
			}
			recordsPurged++
			storageFreed += estimateSize(rec.Data)
		}
	}

	enf := GovernanceEnforcement{
		EnforcementID:   NewID(),
		PolicyID:        policy.PolicyID,
		VersionsDeleted: versionsDeleted,
		RecordsPurged:   recordsPurged,
		StorageFreed:    storageFreed,
		RanAt:           now,
	}
	return g.store.RecordEnforcement(ctx, enf)
}

// shouldKeepVersions computes how many of rec.PreviousVersions (oldest
// first) survive under the policy's mode: "intersection" (default) keeps a
// version only if it satisfies every configured bound (count and age);
// "union" keeps it if it satisfies any configured bound. Either bound can
// be left unset (<= 0), in which case only the other applies.
func shouldKeepVersions(rec ImmutableRecord, policy RetentionPolicy, now int64) int {
	total := len(rec.PreviousVersions)
	if policy.MaxVersions <= 0 && policy.MaxAgeMs <= 0 {
		return total
	}

	countKeep := total
	if policy.MaxVersions > 0 && policy.MaxVersions < total {
		countKeep = policy.MaxVersions
	}
	if policy.MaxAgeMs <= 0 {
		return countKeep
	}

	// ageKeep counts the trailing (most recent) run of versions whose age
	// is within MaxAgeMs, since rec.PreviousVersions is chronologically
	// ordered oldest-first.
	ageKeep := 0
	for i := total - 1; i >= 0; i-- {
		if now-rec.PreviousVersions[i].Timestamp > policy.MaxAgeMs {
			break
		}
		ageKeep++
	}
	if policy.MaxVersions <= 0 {
		return ageKeep
	}

	if policy.Mode == "union" {
		if countKeep > ageKeep {
			return countKeep
		}
		return ageKeep
	}
	// intersection (default): the stricter (smaller) of the two bounds wins.
	if countKeep < ageKeep {
		return countKeep
	}
	return ageKeep
}

func estimateSize(data map[string]any) int64 {
	n := 0
	for k, v := range data {
		n += len(k)
		if s, ok := v.(string); ok {
			n += len(s)
		} else {
			n += 16
		}
	}
	return int64(n)
}

// RequestGDPRDeletion seeds (or resumes) the resumable deletion cascade for
// userID across every collection in gdprCollections, then drains it to
// completion in a single critical-priority pass. A crash mid-cascade leaves
// pending GDPRWorkItem rows that a subsequent call to this method resumes.
func (g *Governance) RequestGDPRDeletion(ctx context.Context, userID string) error {
	ctx, span := g.tracer.Start(ctx, "cortex.RequestGDPRDeletion", StringAttr("userId", userID))
	defer span.End()

	if err := g.store.EnqueueGDPRWork(ctx, userID, gdprCollections); err != nil {
		span.Error(err)
		return err
	}

	pending, err := g.store.PendingGDPRWork(ctx, userID)
	if err != nil {
		span.Error(err)
		return err
	}

	for _, item := range pending {
		if item.Done {
			continue
		}
		n, err := g.store.DeleteByUser(ctx, item.Collection, userID)
		if err != nil {
			span.Error(err)
			return err
		}
		if err := g.store.CompleteGDPRWork(ctx, userID, item.Collection, n); err != nil {
			span.Error(err)
			return err
		}
	}

	if g.graph != nil {
		nodes, err := g.graph.FindNodes(ctx, "User", map[string]any{"userId": userID}, 0)
		if err != nil {
			span.Error(err)
			return err
		}
		for _, n := range nodes {
			if err := g.graph.DeleteNode(ctx, n.ID, true); err != nil {
				span.Error(err)
				return err
			}
		}
	}
	return nil
}
