package domain

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeExternalID(t *testing.T) {
	cases := map[string]string{
		"1042":     "1042",
		" 1042 ":   "1042",
		"001042":   "1042",
		"1042.0":   "1042",
		"1042.000": "1042",
		"0":        "0",
		"000":      "0",
		"":         "",
		"   ":      "",
		"CUST-77":  "CUST-77",
		"1042.5":   "1042.5",
		"abc.0":    "abc.0",
		"\t55\n":   "55",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeExternalID(in), "input %q", in)
	}
}

func TestIDSet_NumericAndStringFormsCollapse(t *testing.T) {
	s := NewIDSet("42", "042", "42.0", " 42")
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Contains("0042"))
}

func TestIDSet_DropsEmpty(t *testing.T) {
	s := NewIDSet("", "  ", "7")
	assert.Equal(t, 1, s.Len())
}

func TestIDSet_DifferencePartitions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		today, yesterday := NewIDSet(), NewIDSet()
		for i := 0; i < 200; i++ {
			id := strconv.Itoa(rng.Intn(300))
			if rng.Intn(2) == 0 {
				today.Add(id)
			} else {
				yesterday.Add(id)
			}
		}

		newIDs := today.Difference(yesterday)
		lostIDs := yesterday.Difference(today)
		unchanged := today.Intersect(yesterday)

		for id := range newIDs {
			assert.False(t, lostIDs.Contains(id))
			assert.False(t, unchanged.Contains(id))
			assert.True(t, today.Contains(id))
			assert.False(t, yesterday.Contains(id))
		}
		for id := range lostIDs {
			assert.False(t, unchanged.Contains(id))
			assert.True(t, yesterday.Contains(id))
			assert.False(t, today.Contains(id))
		}
		assert.Equal(t, today.Len(), newIDs.Len()+unchanged.Len())
		assert.Equal(t, yesterday.Len(), lostIDs.Len()+unchanged.Len())
	}
}

func TestIDSet_Union(t *testing.T) {
	u := NewIDSet("1", "2").Union(NewIDSet("2", "3"))
	assert.Equal(t, []string{"1", "2", "3"}, u.Sorted())
}

func TestSortExternalIDs_NumericByValueThenLexical(t *testing.T) {
	ids := []string{"B-2", "100", "9", "A-1", "20"}
	SortExternalIDs(ids)
	assert.Equal(t, []string{"9", "20", "100", "A-1", "B-2"}, ids)
}
