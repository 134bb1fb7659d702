package referral

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

func TestGenerateCode(t *testing.T) {
	a := GenerateCode("user-1", 0)
	assert.Len(t, a, CodeLength)
	assert.True(t, IsWellFormed(a))
	assert.Equal(t, a, GenerateCode("user-1", 0))
	assert.NotEqual(t, a, GenerateCode("user-1", 1))
	assert.NotEqual(t, a, GenerateCode("user-2", 0))
}

func TestNormalizeAndShape(t *testing.T) {
	assert.Equal(t, "ABCD2345", NormalizeCode("  abcd2345 "))
	assert.True(t, IsWellFormed("ABCD2345"))
	assert.False(t, IsWellFormed("ABCD234"))
	assert.False(t, IsWellFormed("ABCD2341"))
	assert.False(t, IsWellFormed("abcd2345"))
}

func TestNewReferral(t *testing.T) {
	r, err := NewReferral("bob", "alice", "ABCD2345", time.Now())
	require.NoError(t, err)
	assert.Equal(t, shared.UserID("alice"), r.ReferrerID)

	_, err = NewReferral("alice", "alice", "ABCD2345", time.Now())
	assert.ErrorIs(t, err, ErrSelfReferral)
}
