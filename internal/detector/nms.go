package detector

import "sort"

// NMS performs greedy non-maximum suppression and returns the indices of the
// kept detections in descending score order. Detections with equal scores keep
// their input order. A detection is suppressed when its IoU with an already
// kept detection is at or above iouThreshold.
func NMS(dets []Detection, iouThreshold float64) []int {
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Score > dets[order[b]].Score
	})

	suppressed := make([]bool, len(dets))
	keep := make([]int, 0, len(dets))

	for i, n := range order {
		if suppressed[n] {
			continue
		}
		keep = append(keep, n)

		for _, m := range order[i+1:] {
			if suppressed[m] {
				continue
			}
			if dets[n].Box.IoU(dets[m].Box) >= iouThreshold {
				suppressed[m] = true
			}
		}
	}

	return keep
}
