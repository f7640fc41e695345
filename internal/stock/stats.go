package stock

import "sort"

type Stats struct {
	TotalProducts       int            `json:"totalProducts"`
	TotalAvailableStock int            `json:"totalAvailableStock"`
	TotalReservedStock  int            `json:"totalReservedStock"`
	CountByStatus       map[Status]int `json:"countByStatus"`
}

// ComputeStats walks every record once. Each record is counted under
// exactly one status, so CountByStatus always sums to TotalProducts.
func ComputeStats(records map[ProductID]Record) Stats {
	s := Stats{
		TotalProducts: len(records),
		CountByStatus: map[Status]int{
			StatusInStock:       0,
			StatusLowStock:      0,
			StatusCriticalStock: 0,
			StatusOutOfStock:    0,
		},
	}
	for _, r := range records {
		s.TotalAvailableStock += r.AvailableStock
		s.TotalReservedStock += r.ReservedStock
		s.CountByStatus[r.Status]++
	}
	return s
}

func filterSorted(records map[ProductID]Record, keep func(Record) bool) []Record {
	var out []Record
	for _, r := range records {
		if keep(r) {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
