// Package diff detects differences between two harvest snapshots:
// stable identity hashing, field-selective fingerprinting, and
// new/closed/modified classification with collision handling.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/pithecene-io/prospect/types"
)

// IdentityKey computes the deterministic identity of a store: SHA-256
// hex over the canonical address-identity tuple with normalized
// whitespace and casing. A retailer-provided store_id, when present,
// prefixes the key so identity survives address formatting drift.
//
// Phone participates in the tuple when non-empty; otherwise identity
// falls back to (name, street, city, state, zip) alone.
func IdentityKey(s *types.Store) string {
	parts := []string{
		norm(s.Name),
		norm(s.StreetAddress),
		norm(s.City),
		norm(s.State),
		norm(s.PostalCode),
	}
	if s.Phone != "" {
		parts = append(parts, norm(s.Phone))
	}

	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x00})
	}
	key := hex.EncodeToString(h.Sum(nil))

	if s.StoreID != "" {
		return norm(s.StoreID) + ":" + key
	}
	return key
}

// fingerprintFields is the broader comparable-field set: identity
// fields plus coordinates, hours, services, and the scraped URL.
func fingerprintFields(s *types.Store) map[string]any {
	fields := map[string]any{
		"name":           norm(s.Name),
		"street_address": norm(s.StreetAddress),
		"city":           norm(s.City),
		"state":          norm(s.State),
		"postal_code":    norm(s.PostalCode),
		"phone":          norm(s.Phone),
		"url":            s.URL,
	}
	if s.Latitude != nil {
		fields["latitude"] = fmt.Sprintf("%.6f", *s.Latitude)
	}
	if s.Longitude != nil {
		fields["longitude"] = fmt.Sprintf("%.6f", *s.Longitude)
	}
	if v, ok := s.Attributes["hours"]; ok {
		fields["hours"] = fmt.Sprint(v)
	}
	if v, ok := s.Attributes["services"]; ok {
		fields["services"] = fmt.Sprint(v)
	}
	return fields
}

// Fingerprint hashes the comparable-field subset. Equal identity keys
// with unequal fingerprints mean a modified store.
func Fingerprint(s *types.Store) string {
	fields := fingerprintFields(s)

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, k := range names {
		h.Write([]byte(k))
		h.Write([]byte{0x00})
		fmt.Fprint(h, fields[k])
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// norm collapses whitespace and lowercases for hashing.
func norm(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Detector diffs a previous snapshot against a current one. It never
// mutates its inputs.
type Detector struct{}

// New creates a change detector.
func New() *Detector { return &Detector{} }

// index builds identity key -> store, suffixing colliding keys with
// ::1, ::2, ... so no store is silently dropped. Returns the map,
// insertion-ordered keys, and the collision count.
func index(stores []types.Store) (map[string]*types.Store, []string, int) {
	byKey := make(map[string]*types.Store, len(stores))
	order := make([]string, 0, len(stores))
	collisions := 0

	for i := range stores {
		s := &stores[i]
		key := IdentityKey(s)
		if _, exists := byKey[key]; exists {
			collisions++
			for n := 1; ; n++ {
				candidate := fmt.Sprintf("%s::%d", key, n)
				if _, taken := byKey[candidate]; !taken {
					key = candidate
					break
				}
			}
		}
		byKey[key] = s
		order = append(order, key)
	}
	return byKey, order, collisions
}

// Diff classifies every identity-key transition between previous and
// current. The report fully accounts for both snapshots:
// current = previous - closed + new (by identity key).
func (d *Detector) Diff(previous, current []types.Store) *types.ChangeReport {
	prevByKey, prevOrder, _ := index(previous)
	currByKey, currOrder, collisions := index(current)

	report := &types.ChangeReport{
		New:            []types.Store{},
		Closed:         []types.Store{},
		Modified:       []types.ModifiedStore{},
		TotalCurrent:   len(current),
		CollisionCount: collisions,
	}

	for _, key := range currOrder {
		curr := currByKey[key]
		prev, existed := prevByKey[key]
		if !existed {
			report.New = append(report.New, *curr.Clone())
			continue
		}
		if Fingerprint(prev) == Fingerprint(curr) {
			report.UnchangedCount++
			continue
		}
		report.Modified = append(report.Modified, types.ModifiedStore{
			StoreID:       curr.StoreID,
			FieldsChanged: fieldDiff(prev, curr),
		})
	}

	for _, key := range prevOrder {
		if _, stillOpen := currByKey[key]; !stillOpen {
			report.Closed = append(report.Closed, *prevByKey[key].Clone())
		}
	}

	return report
}

// fieldDiff compares each fingerprint field and returns before/after
// pairs for the ones that differ.
func fieldDiff(prev, curr *types.Store) map[string]types.FieldChange {
	prevFields := fingerprintFields(prev)
	currFields := fingerprintFields(curr)

	changed := map[string]types.FieldChange{}
	for k, pv := range prevFields {
		cv, ok := currFields[k]
		if !ok {
			changed[k] = types.FieldChange{Before: pv, After: nil}
			continue
		}
		if fmt.Sprint(pv) != fmt.Sprint(cv) {
			changed[k] = types.FieldChange{Before: pv, After: cv}
		}
	}
	for k, cv := range currFields {
		if _, ok := prevFields[k]; !ok {
			changed[k] = types.FieldChange{Before: nil, After: cv}
		}
	}
	return changed
}
