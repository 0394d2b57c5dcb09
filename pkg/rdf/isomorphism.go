package rdf

import "sort"

// Isomorphic reports whether two datasets describe the same quads up to
// a renaming of blank nodes. It searches for a bijection between the
// blank node labels of both sides; everything else must match exactly.
func Isomorphic(a, b []*Quad) bool {
	if len(a) != len(b) {
		return false
	}

	aBlanks := blankLabels(a)
	bBlanks := blankLabels(b)
	if len(aBlanks) != len(bBlanks) {
		return false
	}
	if len(aBlanks) == 0 {
		return sameQuadSet(a, b, nil)
	}

	// Matching high-degree labels first prunes the search fastest.
	sortByDegree(aBlanks, a)
	sortByDegree(bBlanks, b)

	mapping := make(map[string]string, len(aBlanks))
	used := make(map[string]bool, len(bBlanks))
	return matchBlanks(a, b, aBlanks, bBlanks, mapping, used, 0)
}

func matchBlanks(a, b []*Quad, aBlanks, bBlanks []string, mapping map[string]string, used map[string]bool, depth int) bool {
	if depth == len(aBlanks) {
		return sameQuadSet(a, b, mapping)
	}
	label := aBlanks[depth]
	for _, candidate := range bBlanks {
		if used[candidate] {
			continue
		}
		mapping[label] = candidate
		used[candidate] = true
		if matchBlanks(a, b, aBlanks, bBlanks, mapping, used, depth+1) {
			return true
		}
		delete(mapping, label)
		used[candidate] = false
	}
	return false
}

// sameQuadSet compares both sides as multisets after renaming a's blank
// nodes through the mapping.
func sameQuadSet(a, b []*Quad, mapping map[string]string) bool {
	counts := make(map[string]int, len(b))
	for _, q := range b {
		counts[quadKey(q, nil)]++
	}
	for _, q := range a {
		key := quadKey(q, mapping)
		if counts[key] == 0 {
			return false
		}
		counts[key]--
	}
	return true
}

func quadKey(q *Quad, mapping map[string]string) string {
	return termKey(q.Subject, mapping) + "\x00" +
		termKey(q.Predicate, mapping) + "\x00" +
		termKey(q.Object, mapping) + "\x00" +
		termKey(q.Graph, mapping)
}

func termKey(t Term, mapping map[string]string) string {
	if bn, ok := t.(*BlankNode); ok {
		label := bn.ID
		if renamed, ok := mapping[label]; ok {
			label = renamed
		}
		return "_:" + label
	}
	return t.String()
}

func blankLabels(quads []*Quad) []string {
	seen := make(map[string]bool)
	for _, q := range quads {
		for _, t := range []Term{q.Subject, q.Object, q.Graph} {
			if bn, ok := t.(*BlankNode); ok {
				seen[bn.ID] = true
			}
		}
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func sortByDegree(labels []string, quads []*Quad) {
	degree := make(map[string]int, len(labels))
	for _, q := range quads {
		for _, t := range []Term{q.Subject, q.Object, q.Graph} {
			if bn, ok := t.(*BlankNode); ok {
				degree[bn.ID]++
			}
		}
	}
	sort.SliceStable(labels, func(i, j int) bool {
		return degree[labels[i]] > degree[labels[j]]
	})
}
