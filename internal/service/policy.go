package service

import (
	"fmt"
	"math"
	"math/rand"
)

// 策略类型为封闭集合，统一在 SelectArm 里 switch 分发，便于审计与测试
const (
	PolicyEpsilonGreedy = "epsilon_greedy"
	PolicyUCB1          = "ucb1"
)

const DefaultEpsilon = 0.1

// PolicyConfig 实验的策略配置
type PolicyConfig struct {
	Kind    string  `json:"kind"`
	Epsilon float64 `json:"epsilon"`
}

// ValidatePolicy 校验策略配置，create 时即时报错而非延迟到选臂
func ValidatePolicy(cfg PolicyConfig) error {
	switch cfg.Kind {
	case PolicyEpsilonGreedy:
		if cfg.Epsilon < 0 || cfg.Epsilon > 1 {
			return fmt.Errorf("epsilon 必须在 [0,1] 内，当前 %v: %w", cfg.Epsilon, ErrInvalidArgument)
		}
	case PolicyUCB1:
		// 无超参数
	default:
		return fmt.Errorf("未知策略类型 %q: %w", cfg.Kind, ErrInvalidArgument)
	}
	return nil
}

// SelectArm 根据当前统计快照选择一个臂下标。纯计算，不阻塞。
// 并列时固定取最小下标，保证测试可复现
func SelectArm(stats []ArmStats, cfg PolicyConfig) (int, error) {
	if len(stats) == 0 {
		return 0, fmt.Errorf("臂列表为空: %w", ErrInvalidArgument)
	}
	if err := ValidatePolicy(cfg); err != nil {
		return 0, err
	}

	switch cfg.Kind {
	case PolicyEpsilonGreedy:
		return selectEpsilonGreedy(stats, cfg.Epsilon), nil
	case PolicyUCB1:
		return selectUCB1(stats), nil
	}
	// ValidatePolicy 已拦截未知类型，到不了这里
	return 0, fmt.Errorf("未知策略类型 %q: %w", cfg.Kind, ErrInvalidArgument)
}

// selectEpsilonGreedy 以 epsilon 概率随机探索，否则取平均回报最高的臂
func selectEpsilonGreedy(stats []ArmStats, epsilon float64) int {
	if epsilon > 0 && rand.Float64() < epsilon {
		return rand.Intn(len(stats))
	}

	best := 0
	for i := 1; i < len(stats); i++ {
		if stats[i].MeanReward > stats[best].MeanReward {
			best = i
		}
	}
	return best
}

// selectUCB1 冷启动阶段按下标升序补齐每臂至少一次，
// 之后按 mean + sqrt(2*ln(total)/n_i) 打分取最大
func selectUCB1(stats []ArmStats) int {
	total := 0
	for _, s := range stats {
		total += s.Picks
	}

	for i, s := range stats {
		if s.Picks == 0 {
			return i
		}
	}

	best := 0
	bestScore := math.Inf(-1)
	for i, s := range stats {
		score := s.MeanReward + math.Sqrt(2*math.Log(float64(total))/float64(s.Picks))
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}
