// Package catalog publishes bag-level derivative metadata to the external
// metadata catalog. Backends implement Store; Publisher applies the
// create-or-update logic and the configured derivatives policy.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/imageq/internal/domain"
)

// Policy controls how an existing record's derivatives are updated.
type Policy string

const (
	// PolicyReplace swaps the whole derivatives map.
	PolicyReplace Policy = "replace"
	// PolicyMerge appends entries per stem, replacing entries that point
	// at the same derivative.
	PolicyMerge Policy = "merge"
)

func ParsePolicy(value string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(value))); p {
	case "", PolicyReplace:
		return PolicyReplace, nil
	case PolicyMerge:
		return PolicyMerge, nil
	default:
		return "", fmt.Errorf("%w: unsupported catalog policy %q", domain.ErrConfiguration, value)
	}
}

type Store interface {
	FindByBag(ctx context.Context, bag string) (domain.CatalogRecord, bool, error)
	Create(ctx context.Context, record domain.CatalogRecord) error
	Update(ctx context.Context, record domain.CatalogRecord) error
}

type Publisher struct {
	store  Store
	policy Policy
	now    func() time.Time
}

func NewPublisher(store Store, policy Policy) *Publisher {
	if policy == "" {
		policy = PolicyReplace
	}
	return &Publisher{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

func (p *Publisher) Policy() Policy {
	return p.policy
}

func (p *Publisher) Lookup(ctx context.Context, bag string) (domain.CatalogRecord, bool, error) {
	record, ok, err := p.store.FindByBag(ctx, bag)
	if err != nil {
		return domain.CatalogRecord{}, false, fmt.Errorf("%w: lookup %s: %v", domain.ErrCatalog, bag, err)
	}
	return record, ok, nil
}

// Upsert updates the bag's record according to the policy, or creates one
// seeded with origin when none exists. Concurrent runs are last-write-wins.
func (p *Publisher) Upsert(ctx context.Context, bag string, derivatives map[string][]domain.ManifestEntry, origin domain.Origin) error {
	record, ok, err := p.Lookup(ctx, bag)
	if err != nil {
		return err
	}

	now := p.now().UTC()
	if !ok {
		record = domain.CatalogRecord{
			Bag:         bag,
			Department:  origin.Department,
			Project:     origin.Project,
			Locations:   origin.Locations,
			Derivatives: cloneDerivatives(derivatives),
			UpdatedAt:   now,
		}
		if err := p.store.Create(ctx, record); err != nil {
			return fmt.Errorf("%w: create %s: %v", domain.ErrCatalog, bag, err)
		}
		return nil
	}

	switch p.policy {
	case PolicyMerge:
		record.Derivatives = mergeDerivatives(record.Derivatives, derivatives)
	default:
		record.Derivatives = cloneDerivatives(derivatives)
	}
	record.UpdatedAt = now

	if err := p.store.Update(ctx, record); err != nil {
		return fmt.Errorf("%w: update %s: %v", domain.ErrCatalog, bag, err)
	}
	return nil
}

func mergeDerivatives(existing, incoming map[string][]domain.ManifestEntry) map[string][]domain.ManifestEntry {
	out := cloneDerivatives(existing)
	for stem, entries := range incoming {
		current := out[stem]
		for _, entry := range entries {
			replaced := false
			for i := range current {
				if entryIdentity(current[i]) == entryIdentity(entry) {
					current[i] = entry
					replaced = true
					break
				}
			}
			if !replaced {
				current = append(current, entry)
			}
		}
		out[stem] = current
	}
	return out
}

func entryIdentity(e domain.ManifestEntry) string {
	if e.RemoteKey != "" {
		return "remote:" + e.RemoteKey
	}
	return "local:" + e.LocalPath
}

func cloneDerivatives(in map[string][]domain.ManifestEntry) map[string][]domain.ManifestEntry {
	out := make(map[string][]domain.ManifestEntry, len(in))
	for stem, entries := range in {
		out[stem] = append([]domain.ManifestEntry(nil), entries...)
	}
	return out
}
