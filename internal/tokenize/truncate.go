package tokenize

import "sort"

// cut is the number of tokens removed from each end of one segment
type cut struct {
	front, back int
}

func (c cut) total() int { return c.front + c.back }

// plan distributes excess removals over segments whose shortenable lengths
// are avail. Non-shortenable segments have avail 0. The caller guarantees
// excess <= sum(avail).
func (p Policy) plan(avail []int, excess int) []cut {
	cuts := make([]cut, len(avail))
	if excess <= 0 {
		return cuts
	}
	switch p {
	case PolicyTail:
		for i := len(avail) - 1; i >= 0 && excess > 0; i-- {
			n := min(avail[i], excess)
			cuts[i].back = n
			excess -= n
		}
	case PolicyHead:
		for i := 0; i < len(avail) && excess > 0; i++ {
			n := min(avail[i], excess)
			cuts[i].front = n
			excess -= n
		}
	case PolicyBalanced:
		for i, n := range proportional(avail, excess) {
			cuts[i].front = n / 2
			cuts[i].back = n - n/2
		}
	}
	return cuts
}

// proportional splits q across segments in proportion to their lengths using
// the largest remainder method. Ties go to the earlier segment.
func proportional(lengths []int, q int) []int {
	total := 0
	for _, n := range lengths {
		total += n
	}
	out := make([]int, len(lengths))
	if total == 0 {
		return out
	}

	type rem struct{ idx, r int }
	rems := make([]rem, 0, len(lengths))
	assigned := 0
	for i, n := range lengths {
		out[i] = q * n / total
		assigned += out[i]
		rems = append(rems, rem{idx: i, r: q * n % total})
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].r > rems[b].r })
	for k := 0; k < q-assigned; k++ {
		out[rems[k].idx]++
	}
	return out
}
