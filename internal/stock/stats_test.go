package stock

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestComputeStats(t *testing.T) {
	c := qt.New(t)
	recs := index([]Record{
		{ProductID: "1", AvailableStock: 10, ReservedStock: 1, Status: StatusInStock},
		{ProductID: "2", AvailableStock: 3, ReservedStock: 2, Status: StatusLowStock},
		{ProductID: "3", AvailableStock: 0, Status: StatusOutOfStock},
		{ProductID: "4", AvailableStock: 4},
	})
	s := ComputeStats(recs)
	c.Assert(s, qt.DeepEquals, Stats{
		TotalProducts:       4,
		TotalAvailableStock: 17,
		TotalReservedStock:  3,
		CountByStatus: map[Status]int{
			StatusInStock:       2,
			StatusLowStock:      1,
			StatusCriticalStock: 0,
			StatusOutOfStock:    1,
		},
	})
}

func TestComputeStatsCountsSumToTotal(t *testing.T) {
	c := qt.New(t)
	recs := index([]Record{
		{ProductID: "1", Status: StatusCriticalStock},
		{ProductID: "2", Status: "discontinued"},
		{ProductID: "3", Status: StatusInStock},
	})
	s := ComputeStats(recs)
	sum := 0
	for _, n := range s.CountByStatus {
		sum += n
	}
	c.Assert(sum, qt.Equals, s.TotalProducts)
}

func TestComputeStatsEmpty(t *testing.T) {
	s := ComputeStats(nil)
	qt.Assert(t, s.TotalProducts, qt.Equals, 0)
	qt.Assert(t, s.CountByStatus, qt.HasLen, 4)
}

func TestIndexLaterDuplicateWins(t *testing.T) {
	recs := index([]Record{
		{ProductID: "1", AvailableStock: 1},
		{ProductID: "1", AvailableStock: 2},
	})
	qt.Assert(t, recs["1"].AvailableStock, qt.Equals, 2)
}

func TestDedup(t *testing.T) {
	qt.Assert(t, dedup(IDs("b", "", "a", "b")), qt.DeepEquals, IDs("b", "a"))
}
