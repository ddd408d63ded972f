package service

// CLUSTER DECISIONS:
// Everything in this file is pure: contacts in, decisions out, no store and
// no context. The Resolver feeds these functions what it read and applies
// what they return, which keeps the rules testable with plain slices.

import (
	"sort"
	"strconv"

	"github.com/sakif/contact-identity/internal/apperror"
	"github.com/sakif/contact-identity/internal/model"
)

// Lock key prefixes. Join keys are locked before the first read, contact
// keys once the anchor primaries are known.
const (
	emailKeyPrefix   = "email:"
	phoneKeyPrefix   = "phone:"
	contactKeyPrefix = "contact:"
)

// joinKeys returns the lock keys for the submitted email and phone, sorted.
func joinKeys(email, phone *string) []string {
	keys := make([]string, 0, 2)
	if email != nil {
		keys = append(keys, emailKeyPrefix+*email)
	}
	if phone != nil {
		keys = append(keys, phoneKeyPrefix+*phone)
	}
	sort.Strings(keys)
	return keys
}

// contactKeys returns one lock key per id, in the order of ids.
func contactKeys(ids []int64) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, contactKeyPrefix+formatID(id))
	}
	return keys
}

// anchorIDs maps direct matches to the primaries they belong to: a primary
// anchors itself, a secondary anchors its linked primary. A secondary with no
// link (corrupt row) anchors itself so it still shows up in the expansion.
// The result is sorted and unique.
func anchorIDs(contacts []model.Contact) []int64 {
	set := make(map[int64]struct{}, len(contacts))
	for _, c := range contacts {
		id := c.ID
		if !c.IsPrimary() && c.LinkedID != nil {
			id = *c.LinkedID
		}
		set[id] = struct{}{}
	}
	return sortedIDs(set)
}

// reanchor adds, for every anchor that turned out to be a secondary, the
// primary it links to. This happens when a concurrent merge demoted an
// anchor between the direct lookup and the expansion, or when stored links
// form a chain. The previous anchors stay in the set so contacts still
// linking to them are loaded too.
func reanchor(cluster []model.Contact, anchors []int64) []int64 {
	byID := make(map[int64]model.Contact, len(cluster))
	for _, c := range cluster {
		byID[c.ID] = c
	}

	set := make(map[int64]struct{}, len(anchors)+1)
	for _, id := range anchors {
		set[id] = struct{}{}
		if c, ok := byID[id]; ok && !c.IsPrimary() && c.LinkedID != nil {
			set[*c.LinkedID] = struct{}{}
		}
	}
	return sortedIDs(set)
}

// selectPrimary picks the oldest primary of the cluster.
//
// TIE-BREAK: primaries created at the exact same instant are ordered by id,
// lowest first (see model.Contact.OlderThan).
func selectPrimary(cluster []model.Contact) (model.Contact, error) {
	var (
		winner model.Contact
		found  bool
	)
	for _, c := range cluster {
		if !c.IsPrimary() {
			continue
		}
		if !found || c.OlderThan(winner) {
			winner = c
			found = true
		}
	}
	if !found {
		return model.Contact{}, apperror.InvariantViolated(
			"cluster of contacts %v has no primary", contactIDs(cluster))
	}
	return winner, nil
}

// newFact decides whether the submission teaches the cluster anything.
//
// A submitted field is new when no cluster member carries that exact value.
// The returned contact carries ONLY the new field(s); values the cluster
// already knows are left nil. When both submitted fields are already known,
// even if on two different rows, there is nothing to insert.
func newFact(cluster []model.Contact, email, phone *string) (model.Contact, bool) {
	var fact model.Contact
	if email != nil && !hasEmail(cluster, *email) {
		fact.Email = email
	}
	if phone != nil && !hasPhone(cluster, *phone) {
		fact.PhoneNumber = phone
	}
	return fact, fact.Email != nil || fact.PhoneNumber != nil
}

func hasEmail(cluster []model.Contact, email string) bool {
	for _, c := range cluster {
		if c.Email != nil && *c.Email == email {
			return true
		}
	}
	return false
}

func hasPhone(cluster []model.Contact, phone string) bool {
	for _, c := range cluster {
		if c.PhoneNumber != nil && *c.PhoneNumber == phone {
			return true
		}
	}
	return false
}

// relinkPlan lists the changes that leave winner as the only primary and
// every other member one hop below it: former primaries are demoted,
// secondaries pointing anywhere else are re-pointed. Members already in
// shape are skipped. The returned contacts are copies with the new link
// fields set, in cluster order.
func relinkPlan(winner model.Contact, cluster []model.Contact) (demote, repoint []model.Contact) {
	for _, c := range cluster {
		if c.ID == winner.ID {
			continue
		}
		wasPrimary := c.IsPrimary()
		if !wasPrimary && c.LinkedIDValue() == winner.ID {
			continue
		}
		c.LinkPrecedence = model.Secondary
		c.LinkedID = model.Int64Ptr(winner.ID)
		if wasPrimary {
			demote = append(demote, c)
		} else {
			repoint = append(repoint, c)
		}
	}
	return demote, repoint
}

// buildView assembles the consolidated response for the cluster of primaryID.
//
// ORDERING:
//   - emails / phoneNumbers: the primary's own value first, then every other
//     distinct value in (createdAt, id) order
//   - secondaryContactIds: ascending id
//
// The same stored cluster therefore always produces the same view.
func buildView(primaryID int64, cluster []model.Contact) (*model.ConsolidatedContact, error) {
	ordered := make([]model.Contact, len(cluster))
	copy(ordered, cluster)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OlderThan(ordered[j])
	})

	var primary *model.Contact
	for i := range ordered {
		if ordered[i].ID == primaryID {
			primary = &ordered[i]
			break
		}
	}
	if primary == nil || !primary.IsPrimary() {
		return nil, apperror.InvariantViolated(
			"contact %d is not the primary of cluster %v", primaryID, contactIDs(cluster))
	}

	secondaries := make([]int64, 0, len(ordered))
	for _, c := range ordered {
		if c.ID == primaryID {
			continue
		}
		if c.IsPrimary() || c.LinkedIDValue() != primaryID {
			return nil, apperror.InvariantViolated(
				"contact %d in cluster of %d is not linked to it", c.ID, primaryID)
		}
		secondaries = append(secondaries, c.ID)
	}
	sort.Slice(secondaries, func(i, j int) bool { return secondaries[i] < secondaries[j] })

	return &model.ConsolidatedContact{
		PrimaryContactID:    primaryID,
		Emails:              collectEmails(*primary, ordered),
		PhoneNumbers:        collectPhones(*primary, ordered),
		SecondaryContactIDs: secondaries,
	}, nil
}

// collectEmails lists the distinct emails of ordered, the primary's first.
func collectEmails(primary model.Contact, ordered []model.Contact) []string {
	values := make([]string, 0, len(ordered))
	seen := make(map[string]struct{}, len(ordered))
	add := func(v *string) {
		if v == nil || *v == "" {
			return
		}
		if _, ok := seen[*v]; ok {
			return
		}
		seen[*v] = struct{}{}
		values = append(values, *v)
	}

	add(primary.Email)
	for _, c := range ordered {
		add(c.Email)
	}
	return values
}

// collectPhones lists the distinct phone numbers of ordered, the primary's first.
func collectPhones(primary model.Contact, ordered []model.Contact) []string {
	values := make([]string, 0, len(ordered))
	seen := make(map[string]struct{}, len(ordered))
	add := func(v *string) {
		if v == nil || *v == "" {
			return
		}
		if _, ok := seen[*v]; ok {
			return
		}
		seen[*v] = struct{}{}
		values = append(values, *v)
	}

	add(primary.PhoneNumber)
	for _, c := range ordered {
		add(c.PhoneNumber)
	}
	return values
}

func contactIDs(contacts []model.Contact) []int64 {
	ids := make([]int64, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.ID)
	}
	return ids
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
