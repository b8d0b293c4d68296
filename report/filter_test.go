package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		id      string
		want    bool
	}{
		{"exact match", "infores:molepro", "infores:molepro", true},
		{"exact mismatch", "infores:molepro", "infores:arax", false},
		{"trailing wildcard", "infores:mole*", "infores:molepro", true},
		{"leading wildcard", "*molepro", "infores:molepro", true},
		{"interior wildcard", "infores:*pro", "infores:molepro", true},
		{"bare wildcard matches anything", "*", "infores:arax", true},
		{"wildcard needs both anchors", "infores:*pro", "infores:arax", false},
		{"prefix and suffix must not overlap", "abc*bcd", "abcd", false},
		{"two wildcards never match", "infores:*mole*", "infores:molepro", false},
		{"empty pattern only matches empty id", "", "infores:arax", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchIdentifier(tt.pattern, tt.id))
		})
	}
}

func sampleSummary() map[string]any {
	return map[string]any{
		"KP": map[string]any{
			"infores:molepro": map[string]any{},
		},
		"ARA": map[string]any{
			"infores:arax": map[string]any{
				"kps": map[string]any{
					"infores:molepro": map[string]any{},
				},
			},
		},
	}
}

func TestResourceFilter(t *testing.T) {
	t.Run("no patterns matches everything", func(t *testing.T) {
		assert.Nil(t, ResourceFilter("", ""))
	})

	t.Run("kp only inspects the kp section", func(t *testing.T) {
		assert.True(t, ResourceFilter("", "infores:molepro")(sampleSummary()))
		assert.False(t, ResourceFilter("", "infores:other-kp")(sampleSummary()))
	})

	t.Run("ara only", func(t *testing.T) {
		assert.True(t, ResourceFilter("infores:arax", "")(sampleSummary()))
		assert.False(t, ResourceFilter("infores:aragorn", "")(sampleSummary()))
	})

	t.Run("ara narrowed by kp", func(t *testing.T) {
		assert.True(t, ResourceFilter("infores:arax", "infores:molepro")(sampleSummary()))
		assert.False(t, ResourceFilter("infores:arax", "infores:other-kp")(sampleSummary()))
	})

	t.Run("ara patterns ignore direct kp results", func(t *testing.T) {
		summary := map[string]any{
			"KP": map[string]any{"infores:molepro": map[string]any{}},
		}
		assert.False(t, ResourceFilter("infores:arax", "")(summary))
	})

	t.Run("comma separated lists with wildcards", func(t *testing.T) {
		f := ResourceFilter("", "infores:other, infores:mole*")
		assert.True(t, f(sampleSummary()))
	})

	t.Run("empty summary never matches", func(t *testing.T) {
		assert.False(t, ResourceFilter("", "infores:molepro")(map[string]any{}))
	})
}
