package lockfile

import "sort"

// Diff describes what changed between two lock documents. Useful for
// deciding whether a lockfile needs rewriting and for change reporting.
type Diff struct {
	// Added contains "category/name" keys present only in the new document.
	Added []string

	// Removed contains "category/name" keys present only in the old one.
	Removed []string

	// Changed contains entries whose pin changed between the documents.
	Changed []EntryChange
}

// EntryChange records a pin change for one package.
type EntryChange struct {
	Category string
	Name     string
	Old      string
	New      string
}

// IsEmpty returns true if there are no differences.
func (d *Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare diffs two lock documents category by category.
func Compare(old, new *Lockfile) *Diff {
	diff := &Diff{}
	compareCategory(diff, CategoryDefault, old.Default, new.Default)
	compareCategory(diff, CategoryDevelop, old.Develop, new.Develop)

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Slice(diff.Changed, func(i, j int) bool {
		a, b := diff.Changed[i], diff.Changed[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Name < b.Name
	})
	return diff
}

func compareCategory(diff *Diff, category string, old, new map[string]Entry) {
	remaining := make(map[string]Entry, len(old))
	for name, entry := range old {
		remaining[name] = entry
	}

	for name, newEntry := range new {
		oldEntry, exists := remaining[name]
		if !exists {
			diff.Added = append(diff.Added, category+"/"+name)
			continue
		}
		delete(remaining, name)
		if oldLoc, newLoc := locatorString(oldEntry), locatorString(newEntry); oldLoc != newLoc {
			diff.Changed = append(diff.Changed, EntryChange{
				Category: category,
				Name:     name,
				Old:      oldLoc,
				New:      newLoc,
			})
		}
	}

	for name := range remaining {
		diff.Removed = append(diff.Removed, category+"/"+name)
	}
}

// locatorString renders an entry's locator for comparison and display.
func locatorString(e Entry) string {
	switch {
	case e.Version != "":
		return e.Version
	case e.VCSType != "":
		s := e.VCSType + "+" + e.VCSURL
		if e.Ref != "" {
			s += "@" + e.Ref
		}
		return s
	case e.File != "":
		return e.File
	case e.Path != "":
		return e.Path
	}
	return ""
}
