package service

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

func solvableChallenge(answer int64) *PowChallenge {
	c := &PowChallenge{
		Algorithm:  powAlgorithm,
		Salt:       "abc123",
		Signature:  "sig",
		Difficulty: 144000,
		ExpireAt:   1700000000,
		TargetPath: "/api/v0/chat/completion",
	}
	sum := sha3.Sum256([]byte(fmt.Sprintf("%s_%d_%d", c.Salt, c.ExpireAt, answer)))
	c.Challenge = hex.EncodeToString(sum[:])
	return c
}

func TestChallengeSolver_Solve(t *testing.T) {
	s := NewChallengeSolver()
	encoded, err := s.Solve(context.Background(), solvableChallenge(42))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	var answer powAnswer
	require.NoError(t, json.Unmarshal(raw, &answer))
	assert.Equal(t, int64(42), answer.Answer)
	assert.Equal(t, powAlgorithm, answer.Algorithm)
	assert.Equal(t, "abc123", answer.Salt)
	assert.Equal(t, "sig", answer.Signature)
	assert.Equal(t, "/api/v0/chat/completion", answer.TargetPath)
}

func TestChallengeSolver_UnsupportedAlgorithm(t *testing.T) {
	s := NewChallengeSolver()
	_, err := s.Solve(context.Background(), &PowChallenge{Algorithm: "Argon2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported pow algorithm")
}

func TestChallengeSolver_Unsolvable(t *testing.T) {
	s := NewChallengeSolver()
	_, err := s.Solve(context.Background(), &PowChallenge{
		Algorithm: powAlgorithm,
		Challenge: "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
		Salt:      "x",
		ExpireAt:  1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsolved")
}

func TestChallengeSolver_ContextCanceled(t *testing.T) {
	s := NewChallengeSolver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Solve(ctx, &PowChallenge{
		Algorithm: powAlgorithm,
		Challenge: "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
		Salt:      "x",
		ExpireAt:  1,
	})
	require.ErrorIs(t, err, context.Canceled)
}
