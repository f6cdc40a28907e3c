package tuplesync

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/partnerportal/portal/internal/fga"
)

// DrainResult summarises one outbox pass.
type DrainResult struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
	Dead    int `json:"dead"`
}

// DrainOutbox retries up to limit queued mutations. Mutations are idempotent
// so replaying an already applied entry is harmless.
func (s *Synchronizer) DrainOutbox(ctx context.Context, limit int) (DrainResult, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.store.PendingOutbox(ctx, limit)
	if err != nil {
		return DrainResult{}, err
	}
	var res DrainResult
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.apply(ctx, e.Op, e.Tuple); err != nil {
			dead := e.Attempts+1 >= s.maxAttempts
			if ferr := s.store.FailOutbox(ctx, e.ID, err.Error(), dead); ferr != nil {
				return res, ferr
			}
			res.Failed++
			if dead {
				res.Dead++
				s.logger.Error("outbox entry abandoned",
					slog.Int64("id", e.ID), slog.String("tuple", e.Tuple.String()), slog.Any("error", err))
			}
			continue
		}
		if err := s.store.CompleteOutbox(ctx, e.ID); err != nil {
			return res, err
		}
		s.metrics.repaired("outbox", e.Op, 1)
		res.Applied++
	}
	return res, nil
}

// Report summarises a reconciliation sweep.
type Report struct {
	Partners int `json:"partners"`
	Written  int `json:"written"`
	Deleted  int `json:"deleted"`
	Failures int `json:"failures"`
}

func (r *Report) add(o Report) {
	r.Partners += o.Partners
	r.Written += o.Written
	r.Deleted += o.Deleted
	r.Failures += o.Failures
}

// ReconcileAll sweeps every partner. A failing partner does not stop the
// sweep; its error is logged and counted.
func (s *Synchronizer) ReconcileAll(ctx context.Context) (Report, error) {
	ids, err := s.store.ListPartnerIDs(ctx)
	if err != nil {
		return Report{}, err
	}
	var total Report
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rep, err := s.ReconcilePartner(ctx, id)
		total.add(rep)
		if err != nil {
			total.Failures++
			s.logger.Error("reconcile partner", slog.String("partner_id", id), slog.Any("error", err))
		}
	}
	return total, nil
}

type partnerSnapshot struct {
	rows      []RoleAssignment
	members   []fga.TupleKey
	links     []ResourceLink
	hierarchy []fga.TupleKey
}

// ReconcilePartner compares the relational rows of one partner with the
// tuples stored in FGA and repairs divergence:
//   - active rows get their membership tuple, other roles of the pair are removed
//   - tuples of pending, inactive or missing rows are deleted
//   - resource rows get their parent and supplier tuples; tuples without a
//     row (or of archived rows when archived resources are detached) are deleted
func (s *Synchronizer) ReconcilePartner(ctx context.Context, partnerID string) (Report, error) {
	snap, err := s.snapshot(ctx, partnerID)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Partners: 1}

	active := make(map[string]Role)
	for _, row := range snap.rows {
		if row.Status == StatusActive {
			active[row.UserID] = row.Role
		}
	}
	present := make(map[string][]string)
	for _, t := range snap.members {
		if !fga.IsRole(t.Relation) {
			continue
		}
		typ, userID, ok := fga.SplitObject(t.User)
		if !ok || typ != fga.TypeUser {
			continue
		}
		present[userID] = append(present[userID], t.Relation)
	}
	var suspects []string
	for userID, rels := range present {
		role, ok := active[userID]
		if !ok || len(rels) != 1 || rels[0] != string(role) {
			suspects = append(suspects, userID)
		}
	}
	for userID := range active {
		if _, ok := present[userID]; !ok {
			suspects = append(suspects, userID)
		}
	}
	slices.Sort(suspects)
	for _, userID := range suspects {
		written, deleted, err := s.repairMembership(ctx, partnerID, userID)
		rep.Written += written
		rep.Deleted += deleted
		if err != nil {
			rep.Failures++
			s.logger.Warn("repair membership", slog.String("partner_id", partnerID),
				slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	hw, hd, hf := s.repairResources(ctx, partnerID, snap)
	rep.Written += hw
	rep.Deleted += hd
	rep.Failures += hf
	s.metrics.repaired("sweep", OutboxWrite, rep.Written)
	s.metrics.repaired("sweep", OutboxDelete, rep.Deleted)
	return rep, nil
}

func (s *Synchronizer) snapshot(ctx context.Context, partnerID string) (partnerSnapshot, error) {
	var snap partnerSnapshot
	partner := fga.Object(fga.TypePartner, partnerID)
	hierarchy := make([][]fga.TupleKey, len(fga.ResourceTypes)+1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.rows, err = s.store.ListAssignments(gctx, partnerID)
		return err
	})
	g.Go(func() (err error) {
		snap.links, err = s.store.ListResourceLinks(gctx, partnerID)
		return err
	})
	g.Go(func() (err error) {
		snap.members, err = s.fga.ReadTuples(gctx, fga.TupleFilter{Object: partner})
		return err
	})
	for i, typ := range fga.ResourceTypes {
		g.Go(func() (err error) {
			hierarchy[i], err = s.fga.ReadTuples(gctx, fga.TupleFilter{User: partner, Relation: fga.RelationParent, Object: typ + ":"})
			return err
		})
	}
	g.Go(func() (err error) {
		hierarchy[len(fga.ResourceTypes)], err = s.fga.ReadTuples(gctx, fga.TupleFilter{User: partner, Relation: fga.RelationSupplier, Object: fga.TypeSKU + ":"})
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, fga.ErrUnavailable) {
			return partnerSnapshot{}, authzError("read tuples", err)
		}
		return partnerSnapshot{}, err
	}
	for _, ts := range hierarchy {
		snap.hierarchy = append(snap.hierarchy, ts...)
	}
	return snap, nil
}

// repairMembership re-reads one pair under its lock so that it never races
// an in-flight grant or change.
func (s *Synchronizer) repairMembership(ctx context.Context, partnerID, userID string) (written, deleted int, err error) {
	release, err := s.lock(ctx, partnerID, userID)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	row, err := s.store.GetAssignment(ctx, partnerID, userID)
	if err != nil && !isNotFound(err) {
		return 0, 0, err
	}
	want := ""
	if err == nil && row.Status == StatusActive {
		want = string(row.Role)
	}
	tuples, err := s.fga.ReadTuples(ctx, fga.TupleFilter{User: fga.User(userID), Object: fga.Object(fga.TypePartner, partnerID)})
	if err != nil {
		return 0, 0, authzError("read membership", err)
	}
	has := false
	for _, t := range tuples {
		if !fga.IsRole(t.Relation) {
			continue
		}
		if t.Relation == want {
			has = true
			continue
		}
		if err := s.apply(ctx, OutboxDelete, t); err != nil {
			return written, deleted, authzError("delete membership", err)
		}
		deleted++
	}
	if want != "" && !has {
		if err := s.apply(ctx, OutboxWrite, fga.MembershipTuple(userID, want, partnerID)); err != nil {
			return written, deleted, authzError("write membership", err)
		}
		written++
	}
	return written, deleted, nil
}

func (s *Synchronizer) repairResources(ctx context.Context, partnerID string, snap partnerSnapshot) (written, deleted, failures int) {
	want := make(map[fga.TupleKey]struct{})
	for _, l := range snap.links {
		if l.Archived && !s.retainArchived {
			continue
		}
		if l.PartnerID == partnerID {
			want[fga.HierarchyTuple(partnerID, l.Kind, l.ID)] = struct{}{}
		}
		if l.Kind == fga.TypeSKU && l.SupplierPartnerID == partnerID {
			want[fga.SupplierTuple(partnerID, l.ID)] = struct{}{}
		}
	}
	have := make(map[fga.TupleKey]struct{}, len(snap.hierarchy))
	for _, t := range snap.hierarchy {
		have[t] = struct{}{}
		if _, ok := want[t]; ok {
			continue
		}
		if err := s.apply(ctx, OutboxDelete, t); err != nil {
			failures++
			s.logger.Warn("repair resource tuple", slog.String("tuple", t.String()), slog.Any("error", err))
			continue
		}
		deleted++
	}
	for t := range want {
		if _, ok := have[t]; ok {
			continue
		}
		if err := s.apply(ctx, OutboxWrite, t); err != nil {
			failures++
			s.logger.Warn("repair resource tuple", slog.String("tuple", t.String()), slog.Any("error", err))
			continue
		}
		written++
	}
	return written, deleted, failures
}
