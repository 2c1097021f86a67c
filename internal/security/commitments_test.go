package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCommitmentsTypes(t *testing.T) {
	cases := map[string]string{
		"We will pay $5,000 on receipt":                   "financial",
		"I accept the price of $1200 as quoted":           "price_agreement",
		"We are ready to sign the contract this week":     "contract",
		"I guarantee the fix lands this sprint":           "guarantee",
		"We'll have it done by Friday":                    "deadline",
		"Delivery complete by 12/15 at the latest":        "deadline",
		"We will definitely include the migration":        "will_do",
		"We can allocate 3 developers to this":            "resource",
	}
	for text, want := range cases {
		found := DetectCommitments(text)
		require.NotEmpty(t, found, "expected commitment in %q", text)
		types := make([]string, 0, len(found))
		for _, c := range found {
			types = append(types, c.Type)
		}
		assert.Contains(t, types, want, "text %q", text)
	}
}

func TestDetectCommitmentsNoNegationModel(t *testing.T) {
	// Negation is deliberately not modeled; over-matching is a warning,
	// never a block.
	found := DetectCommitments("We will not pay $5000 for this")
	require.NotEmpty(t, found)
	assert.Equal(t, "financial", found[0].Type)
}

func TestDetectCommitmentsClean(t *testing.T) {
	assert.Empty(t, DetectCommitments("Thanks for the update, looks good to me."))
	assert.Empty(t, DetectCommitments(""))
}

func TestHasCommitments(t *testing.T) {
	assert.True(t, HasCommitments("we promise a response by tomorrow"))
	assert.False(t, HasCommitments("see you at the meeting"))
}
