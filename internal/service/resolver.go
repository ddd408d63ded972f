// Package service implements identity resolution.
//
// The Resolver is the business logic layer between the HTTP handler and the
// contact store:
//
//	IdentifyHandler (HTTP) → Resolver (cluster rules) → ContactStore (DB)
//
// A "cluster" is every stored contact that belongs to one person: exactly one
// primary plus the secondaries that link straight to it. Resolve takes an
// email and/or phone number, finds the cluster(s) they touch, records any new
// fact, folds several clusters into one when the submission bridges them, and
// returns the consolidated view.
//
// CONCURRENCY:
// Each Resolve runs inside one store transaction. Before reading, it locks the
// submitted join keys ("email:<e>", "phone:<p>"); once it knows which primaries
// are involved it locks those too ("contact:<id>"). Two requests that could
// touch the same rows therefore run one after the other, which is what keeps
// "one secondary per new fact" and "one demotion per merge" true under load.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sakif/contact-identity/internal/apperror"
	"github.com/sakif/contact-identity/internal/model"
	"github.com/sakif/contact-identity/internal/repository"
)

// maxExpansions bounds how often the resolver re-anchors after finding that
// one of its anchors is a secondary. One extra round is the normal worst
// case; hitting the limit means the stored links form a long chain.
const maxExpansions = 4

const tracerName = "github.com/sakif/contact-identity/internal/service"

// Resolver reconciles submitted contact details into identity clusters.
//
// DEPENDENCIES (injected via NewResolver):
//   - store   repository.ContactStore → transactions, locks, reads, writes
//   - logger  *slog.Logger            → structured logging
type Resolver struct {
	store  repository.ContactStore
	logger *slog.Logger
	tracer trace.Tracer
}

// NewResolver creates a Resolver. Spans go to the global tracer provider,
// which is a no-op until telemetry.Setup installs a real one.
func NewResolver(store repository.ContactStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// outcome records what one resolution changed, for logs and span attributes.
type outcome struct {
	created    bool  // a new primary was inserted
	factID     int64 // id of the new secondary, 0 when none
	demoted    int
	repointed  int
	clusterLen int
}

// Resolve reconciles email and phone with the stored contacts and returns the
// consolidated view of the resulting cluster.
//
// nil and "" both mean "not provided". At least one must be provided;
// otherwise Resolve returns an apperror.ErrValidation error without touching
// the store. Store failures are returned as they are; the transaction is
// rolled back and nothing is retried.
func (r *Resolver) Resolve(ctx context.Context, email, phone *string) (*model.ConsolidatedContact, error) {
	email, phone = normalize(email), normalize(phone)
	if email == nil && phone == nil {
		return nil, apperror.Invalid("At least one of email or phoneNumber must be provided")
	}

	logger := r.logger.With(slog.String("resolution", xid.New().String()))

	ctx, span := r.tracer.Start(ctx, "identity.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("identity.has_email", email != nil),
		attribute.Bool("identity.has_phone", phone != nil),
	)

	var (
		view *model.ConsolidatedContact
		out  outcome
	)
	err := r.store.InTx(ctx, func(tx repository.ContactTx) error {
		// Reset on every attempt so a rolled-back run leaves nothing behind.
		out = outcome{}
		v, err := r.resolve(ctx, tx, email, phone, &out, logger)
		view = v
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		logger.Error("resolution failed", slog.String("error", err.Error()))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("identity.primary_id", view.PrimaryContactID),
		attribute.Int("identity.cluster_size", out.clusterLen),
		attribute.Bool("identity.created", out.created),
		attribute.Int("identity.demoted", out.demoted),
	)
	logger.Info("contact resolved",
		slog.Int64("primary_id", view.PrimaryContactID),
		slog.Bool("created", out.created),
		slog.Int64("new_secondary_id", out.factID),
		slog.Int("demoted", out.demoted),
		slog.Int("repointed", out.repointed),
		slog.Int("cluster_size", out.clusterLen),
	)
	return view, nil
}

// resolve runs the steps of one resolution inside tx.
func (r *Resolver) resolve(
	ctx context.Context,
	tx repository.ContactTx,
	email, phone *string,
	out *outcome,
	logger *slog.Logger,
) (*model.ConsolidatedContact, error) {
	// 1. Lock what was submitted, then look it up.
	if err := tx.Lock(ctx, joinKeys(email, phone)...); err != nil {
		return nil, err
	}
	direct, err := tx.FindByEmailOrPhone(ctx, email, phone)
	if err != nil {
		return nil, err
	}

	// 2. Nobody knows these details yet: a brand-new identity.
	if len(direct) == 0 {
		contact := &model.Contact{
			Email:          email,
			PhoneNumber:    phone,
			LinkPrecedence: model.Primary,
		}
		if err := tx.Create(ctx, contact); err != nil {
			return nil, err
		}
		out.created = true
		out.clusterLen = 1
		logger.Info("created primary contact", slog.Int64("contact_id", contact.ID))
		return buildView(contact.ID, []model.Contact{*contact})
	}

	// 3. Every cluster the submission touches, locked and loaded.
	cluster, err := r.expand(ctx, tx, direct, logger)
	if err != nil {
		return nil, err
	}

	// 4. The oldest primary survives.
	winner, err := selectPrimary(cluster)
	if err != nil {
		return nil, err
	}
	logger.Debug("selected primary",
		slog.Int64("primary_id", winner.ID),
		slog.Int("cluster_size", len(cluster)),
	)

	// 5. Record what the cluster did not know yet.
	if fact, ok := newFact(cluster, email, phone); ok {
		fact.LinkPrecedence = model.Secondary
		fact.LinkedID = model.Int64Ptr(winner.ID)
		if err := tx.Create(ctx, &fact); err != nil {
			return nil, err
		}
		out.factID = fact.ID
		logger.Info("created secondary contact",
			slog.Int64("contact_id", fact.ID),
			slog.Int64("primary_id", winner.ID),
			slog.Bool("email", fact.Email != nil),
			slog.Bool("phone", fact.PhoneNumber != nil),
		)
	} else {
		logger.Debug("nothing new to record", slog.Int64("primary_id", winner.ID))
	}

	// 6. Fold every other primary (and its secondaries) under the winner.
	if err := r.merge(ctx, tx, winner, cluster, out, logger); err != nil {
		return nil, err
	}

	// 7. Read back what is now stored for the winner.
	final, err := tx.FindByIDsOrLinkedIDs(ctx, []int64{winner.ID})
	if err != nil {
		return nil, err
	}
	out.clusterLen = len(final)
	return buildView(winner.ID, final)
}

// expand locks the anchor primaries of the direct matches and loads every
// contact that is, or links to, one of them.
//
// If an anchor turns out to be a secondary (demoted by a merge that committed
// after the direct lookup, or a chained link), its primary joins the anchors
// and the expansion runs again.
func (r *Resolver) expand(
	ctx context.Context,
	tx repository.ContactTx,
	direct []model.Contact,
	logger *slog.Logger,
) ([]model.Contact, error) {
	anchors := anchorIDs(direct)
	locked := make(map[int64]bool, len(anchors))

	for round := 0; round < maxExpansions; round++ {
		var pending []int64
		for _, id := range anchors {
			if !locked[id] {
				pending = append(pending, id)
				locked[id] = true
			}
		}
		if len(pending) > 0 {
			if err := tx.Lock(ctx, contactKeys(pending)...); err != nil {
				return nil, err
			}
		}

		cluster, err := tx.FindByIDsOrLinkedIDs(ctx, anchors)
		if err != nil {
			return nil, err
		}
		if len(cluster) == 0 {
			return direct, nil
		}

		next := reanchor(cluster, anchors)
		if equalIDs(next, anchors) {
			return cluster, nil
		}
		logger.Debug("anchor is not a primary, re-expanding",
			slog.Any("anchors", anchors),
			slog.Any("next", next),
		)
		anchors = next
	}

	return nil, apperror.InvariantViolated(
		"cluster around %v did not settle after %d expansions", anchors, maxExpansions)
}

// merge makes winner the only primary of the cluster.
//
// Demoted primaries and mis-linked secondaries are updated from the in-memory
// cluster first. A sweep over the demoted ids then catches secondaries that
// still point at one of them but were not part of the loaded cluster.
func (r *Resolver) merge(
	ctx context.Context,
	tx repository.ContactTx,
	winner model.Contact,
	cluster []model.Contact,
	out *outcome,
	logger *slog.Logger,
) error {
	demote, repoint := relinkPlan(winner, cluster)
	if len(demote) == 0 && len(repoint) == 0 {
		return nil
	}

	demoted := make(map[int64]struct{}, len(demote))
	for i := range demote {
		if err := tx.Update(ctx, &demote[i]); err != nil {
			return err
		}
		demoted[demote[i].ID] = struct{}{}
		out.demoted++
		logger.Info("demoted primary contact",
			slog.Int64("contact_id", demote[i].ID),
			slog.Int64("primary_id", winner.ID),
		)
	}
	for i := range repoint {
		if err := tx.Update(ctx, &repoint[i]); err != nil {
			return err
		}
		out.repointed++
		logger.Info("re-pointed secondary contact",
			slog.Int64("contact_id", repoint[i].ID),
			slog.Int64("primary_id", winner.ID),
		)
	}

	if len(demoted) == 0 {
		return nil
	}
	stragglers, err := tx.FindByIDsOrLinkedIDs(ctx, sortedIDs(demoted))
	if err != nil {
		return err
	}
	for _, c := range stragglers {
		if c.LinkedID == nil {
			continue
		}
		if _, ok := demoted[*c.LinkedID]; !ok {
			continue
		}
		c.LinkedID = model.Int64Ptr(winner.ID)
		c.LinkPrecedence = model.Secondary
		if err := tx.Update(ctx, &c); err != nil {
			return err
		}
		out.repointed++
		logger.Info("re-pointed straggler contact",
			slog.Int64("contact_id", c.ID),
			slog.Int64("primary_id", winner.ID),
		)
	}
	return nil
}

// Lookup returns the consolidated view of the cluster containing contact id.
// It only reads, so it runs outside a transaction.
func (r *Resolver) Lookup(ctx context.Context, id int64) (*model.ConsolidatedContact, error) {
	ctx, span := r.tracer.Start(ctx, "identity.Lookup",
		trace.WithAttributes(attribute.Int64("identity.contact_id", id)))
	defer span.End()

	around, err := r.store.FindByIDsOrLinkedIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}

	var self *model.Contact
	for i := range around {
		if around[i].ID == id {
			self = &around[i]
			break
		}
	}
	if self == nil {
		return nil, apperror.NotFound("contact", formatID(id))
	}
	if self.IsPrimary() {
		return buildView(id, around)
	}

	primaryID := self.LinkedIDValue()
	cluster, err := r.store.FindByIDsOrLinkedIDs(ctx, []int64{primaryID})
	if err != nil {
		return nil, err
	}
	return buildView(primaryID, cluster)
}

// normalize treats nil, "" and whitespace-only values as absent.
func normalize(s *string) *string {
	if s == nil {
		return nil
	}
	return model.StringPtr(strings.TrimSpace(*s))
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
