// Package resolve reconstructs deterministic ordering and derived
// relationships from a flat export listing.
//
// Exports carry no guaranteed order and position values may be duplicated or
// absent, but the target instance must receive entities in source display
// order: creation call order is the only ordering signal the target honors.
// The total order here (position, then title, then source identifier, all
// ascending) must therefore be stable across runs and implementations.
package resolve

import (
	"sort"
	"strconv"

	"github.com/courseware-hq/cmigrate/internal/types"
)

// positionOf returns the sort value for an optional position; absent
// positions sort after every present one.
func positionOf(p *int) int {
	if p == nil {
		return int(^uint(0) >> 1) // MaxInt
	}
	return *p
}

// SortRecords orders sibling records in place by (position, title, source
// identifier) ascending. The sort is stable, so equal keys preserve listing
// order, though fully equal keys cannot occur for distinct records.
func SortRecords(records []*types.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if pa, pb := positionOf(a.Position), positionOf(b.Position); pa != pb {
			return pa < pb
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return lessSourceKey(a, b)
	})
}

// lessSourceKey is the final tie-break. Integer identifiers compare
// numerically (id 9 before id 20); slug-keyed pages compare as strings.
func lessSourceKey(a, b *types.Record) bool {
	ka, kb := a.SourceKey(), b.SourceKey()
	na, errA := strconv.ParseInt(ka, 10, 64)
	nb, errB := strconv.ParseInt(kb, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return ka < kb
}

// SortModuleItems orders a module's items in place by (position, title, item
// id) ascending.
func SortModuleItems(items []types.ModuleItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if pa, pb := positionOf(a.Position), positionOf(b.Position); pa != pb {
			return pa < pb
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ItemID < b.ItemID
	})
}

// DuplicatePositionGroups counts groups of sibling records that share an
// explicit position value. Duplicates are legal (the title/id tie-break keeps
// the order total); the caller emits a single aggregate warning for the whole
// run rather than one per item, since a legitimately unordered export would
// otherwise drown the log.
func DuplicatePositionGroups(records []*types.Record) int {
	seen := make(map[int]int)
	for _, r := range records {
		if r.Position == nil {
			continue
		}
		seen[*r.Position]++
	}
	groups := 0
	for _, n := range seen {
		if n > 1 {
			groups++
		}
	}
	return groups
}

// Membership is one flattened container-membership record: a module's
// reference to a member entity, joined with the module's own position so the
// backfill can order referencing items globally.
type Membership struct {
	ModuleID       int64
	ModulePosition int
	Item           types.ModuleItem
}

// Memberships flattens module records into membership records. Modules and
// their items are visited in deterministic order, so the result's order is
// the global display order of all module items.
func Memberships(modules []*types.Record) []Membership {
	sorted := make([]*types.Record, len(modules))
	copy(sorted, modules)
	SortRecords(sorted)

	var out []Membership
	for pos, mod := range sorted {
		if mod.Module == nil {
			continue
		}
		items := make([]types.ModuleItem, len(mod.Module.Items))
		copy(items, mod.Module.Items)
		SortModuleItems(items)
		for _, it := range items {
			out = append(out, Membership{
				ModuleID:       mod.SourceID,
				ModulePosition: pos + 1,
				Item:           it,
			})
		}
	}
	return out
}

// BackfillStats counts how many leaf records gained module item references.
type BackfillStats struct {
	Referenced   int // leaves referenced by at least one module item
	Unreferenced int // leaves with an empty (but present) reference list
}

// BackfillModuleItems populates each leaf record's ModuleItemIDs from the
// membership listing, ordered by the referencing module's position then the
// item's own order. Every leaf gets a non-nil list, empty when nothing
// references it, because downstream consumers of the exported metadata
// distinguish "no references" from "not yet computed".
//
// Must run before any leaf is migrated: the backfilled sets are written into
// the leaves' exported metadata, not used for the engine's own ordering.
func BackfillModuleItems(leaves []*types.Record, memberships []Membership) BackfillStats {
	type key struct {
		kind types.Kind
		id   string
	}

	refs := make(map[key][]int64)
	for _, ms := range memberships {
		it := ms.Item
		var k key
		switch types.NormalizeItemType(string(it.Type)) {
		case types.ItemPage:
			if it.PageSlug == "" {
				continue
			}
			k = key{types.KindPage, it.PageSlug}
		case types.ItemAssignment:
			k = key{types.KindAssignment, intKey(it.ContentID)}
		case types.ItemQuiz:
			k = key{types.KindQuiz, intKey(it.ContentID)}
		case types.ItemDiscussion:
			k = key{types.KindDiscussion, intKey(it.ContentID)}
		case types.ItemFile:
			k = key{types.KindFile, intKey(it.ContentID)}
		default:
			// SubHeader, ExternalUrl, ExternalTool reference no leaf.
			continue
		}
		if it.ContentID == 0 && k.kind != types.KindPage {
			continue
		}
		refs[k] = append(refs[k], it.ItemID)
	}

	var stats BackfillStats
	for _, leaf := range leaves {
		ids := refs[key{leaf.Kind, leaf.SourceKey()}]
		if ids == nil {
			leaf.ModuleItemIDs = []int64{}
			stats.Unreferenced++
			continue
		}
		leaf.ModuleItemIDs = append([]int64(nil), ids...)
		stats.Referenced++
	}
	return stats
}

// intKey matches Record.SourceKey for numeric kinds.
func intKey(n int64) string {
	return strconv.FormatInt(n, 10)
}
