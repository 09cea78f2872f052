package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mte/internal/domain"
)

func TestFilter_FilterByName(t *testing.T) {
	filter := NewFilter()

	tests := []struct {
		name     string
		files    []string
		pattern  string
		expected int
	}{
		{
			name:     "empty pattern returns all",
			files:    []string{"user.test.js", "payment.test.js", "order.test.js"},
			pattern:  "",
			expected: 3,
		},
		{
			name:     "wildcard pattern matches suffix",
			files:    []string{"user.test.js", "payment.test.js", "order.test.js"},
			pattern:  "*user.test.js",
			expected: 1,
		},
		{
			name:     "wildcard pattern matches substring",
			files:    []string{"user.test.js", "payment.test.js", "order.test.js", "payment-service.test.js"},
			pattern:  "*payment*",
			expected: 2,
		},
		{
			name:     "simple contains match",
			files:    []string{"user.test.js", "payment.test.js", "order.test.js"},
			pattern:  "payment",
			expected: 1,
		},
		{
			name:     "no matches",
			files:    []string{"user.test.js", "payment.test.js"},
			pattern:  "*nonexistent*",
			expected: 0,
		},
		{
			name:     "full path with wildcard",
			files:    []string{"/path/to/user.test.js", "/path/to/payment.test.js"},
			pattern:  "*user.test.js",
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, filter.FilterByName(tt.files, tt.pattern), tt.expected)
		})
	}
}

func TestFilter_FilterNodes(t *testing.T) {
	filter := NewFilter()
	nodes := []*domain.TestNode{
		{ID: "/t.js", Title: "t.js"},
		{ID: "/t.js::Cart", FullTitle: "Cart", ParentID: "/t.js"},
		{ID: "/t.js::Cart adds items", FullTitle: "Cart adds items", ParentID: "/t.js::Cart", IsTestCase: true},
		{ID: "/t.js::Checkout pays", FullTitle: "Checkout pays", ParentID: "/t.js", IsTestCase: true},
	}

	t.Run("empty pattern returns all", func(t *testing.T) {
		assert.Len(t, filter.FilterNodes(nodes, ""), 4)
	})

	t.Run("substring never selects roots", func(t *testing.T) {
		got := filter.FilterNodes(nodes, "t")
		for _, n := range got {
			assert.NotEmpty(t, n.ParentID)
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		got := filter.FilterNodes(nodes, "Cart*")
		assert.Len(t, got, 2)
	})

	t.Run("glob on full title", func(t *testing.T) {
		got := filter.FilterNodes(nodes, "Checkout ?ays")
		assert.Len(t, got, 1)
	})
}
