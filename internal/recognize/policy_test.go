package recognize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide_TakesTopRankedMatch(t *testing.T) {
	policy := Policy{}

	name, ok := policy.Decide([]Match{
		{Subject: "Alice", Similarity: 0.97},
		{Subject: "Bob", Similarity: 0.61},
	})

	assert.True(t, ok)
	assert.Equal(t, "Alice", name)
}

func TestDecide_EmptyResultIsUnknown(t *testing.T) {
	policy := Policy{}

	name, ok := policy.Decide(nil)

	assert.False(t, ok)
	assert.Empty(t, name)
}

func TestDecide_SimilarityFloorRejectsWeakTopMatch(t *testing.T) {
	policy := Policy{SimilarityFloor: 0.9}

	_, ok := policy.Decide([]Match{{Subject: "Alice", Similarity: 0.75}})
	assert.False(t, ok)

	name, ok := policy.Decide([]Match{{Subject: "Alice", Similarity: 0.95}})
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)
}

func TestDecideVerification(t *testing.T) {
	policy := Policy{SimilarityFloor: 0.8}

	assert.False(t, policy.DecideVerification(Verification{Verified: false, Similarity: 0.95}))
	assert.False(t, policy.DecideVerification(Verification{Verified: true, Similarity: 0.5}))
	assert.True(t, policy.DecideVerification(Verification{Verified: true, Similarity: 0.9}))
}
