package service

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// PowChallenge 是上游下发的工作量证明挑战
type PowChallenge struct {
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt"`
	Signature  string `json:"signature"`
	Difficulty int64  `json:"difficulty"`
	ExpireAt   int64  `json:"expire_at"`
	TargetPath string `json:"target_path"`
}

type powAnswer struct {
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt"`
	Answer     int64  `json:"answer"`
	Signature  string `json:"signature"`
	TargetPath string `json:"target_path"`
}

const (
	powAlgorithm   = "DeepSeekHashV1"
	maxPowAttempts = 300000
)

// ChallengeSolver 求解 DeepSeekHashV1：寻找 answer 使
// sha3-256("{salt}_{expire_at}_{answer}") 的十六进制摘要等于 challenge。
type ChallengeSolver struct{}

func NewChallengeSolver() *ChallengeSolver {
	return &ChallengeSolver{}
}

// Solve 返回挑战应答的 base64 JSON，放进 X-Ds-Pow-Response 头。
// 线性搜索，每批次检查一次 ctx 避免长时间占用。
func (s *ChallengeSolver) Solve(ctx context.Context, challenge *PowChallenge) (string, error) {
	if challenge.Algorithm != powAlgorithm {
		return "", dserror.New(dserror.KindUpstreamUnavailable,
			"unsupported pow algorithm %q", challenge.Algorithm)
	}

	answer, err := s.search(ctx, challenge)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(powAnswer{
		Algorithm:  challenge.Algorithm,
		Challenge:  challenge.Challenge,
		Salt:       challenge.Salt,
		Answer:     answer,
		Signature:  challenge.Signature,
		TargetPath: challenge.TargetPath,
	})
	if err != nil {
		return "", dserror.Wrap(dserror.KindInternal, err, "encode pow answer")
	}

	logger.L().Debug("pow challenge solved",
		zap.String("component", "challenge_solver"),
		zap.Int64("answer", answer))
	return base64.StdEncoding.EncodeToString(payload), nil
}

func (s *ChallengeSolver) search(ctx context.Context, challenge *PowChallenge) (int64, error) {
	prefix := challenge.Salt + "_" + strconv.FormatInt(challenge.ExpireAt, 10) + "_"
	for answer := int64(0); answer < maxPowAttempts; answer++ {
		if answer%4096 == 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			default:
			}
		}
		sum := sha3.Sum256([]byte(prefix + strconv.FormatInt(answer, 10)))
		if hex.EncodeToString(sum[:]) == challenge.Challenge {
			return answer, nil
		}
	}
	return 0, dserror.New(dserror.KindUpstreamUnavailable,
		"pow challenge unsolved after %d attempts", maxPowAttempts)
}
