package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agent-lab/internal/db"
	"agent-lab/internal/model"

	"gorm.io/gorm"
)

// 与原演示保持一致的解释用 system prompt
const explainSystemPrompt = "You explain bandit decisions concisely for a hackathon demo."

const defaultExplainTimeout = 30 * time.Second

// ExplainService 为已有的 Pick 生成"为什么选这个臂"的文字理由。
// 解释是尽力而为的附属数据：上游失败只返回 ErrUpstreamUnavailable，
// 绝不回滚或污染 Pick/实验本身
type ExplainService struct {
	bandit  *BanditService
	gen     TextGenerator
	hub     *Hub
	timeout time.Duration
}

func NewExplainService(bandit *BanditService, gen TextGenerator, hub *Hub) *ExplainService {
	return &ExplainService{
		bandit:  bandit,
		gen:     gen,
		hub:     hub,
		timeout: defaultExplainTimeout,
	}
}

// Explain 为指定 Pick 生成并落库一条解释。
// 同一 Pick 已有解释时直接返回既有记录（写入至多一次）。
// 上游调用在任何锁之外进行，且带超时
func (s *ExplainService) Explain(ctx context.Context, pickID uint) (*model.Explanation, error) {
	var pick model.Pick
	if err := db.DB.WithContext(ctx).First(&pick, pickID).Error; err != nil {
		return nil, fmt.Errorf("Pick %d 不存在: %w", pickID, ErrNotFound)
	}

	var existing model.Explanation
	if err := db.DB.WithContext(ctx).Where("pick_id = ?", pickID).First(&existing).Error; err == nil {
		return &existing, nil
	}

	exp, err := s.bandit.GetExperiment(ctx, pick.ExperimentID)
	if err != nil {
		return nil, err
	}

	// 优先用选臂时留存的快照，让理由反映决策当时的统计；
	// 旧数据没有快照时退回当前统计（锁内只取快照，LLM 调用在锁外）
	var stats []ArmStats
	if pick.StatsJSON != "" {
		if err := json.Unmarshal([]byte(pick.StatsJSON), &stats); err != nil {
			stats = nil
		}
	}
	if stats == nil {
		stats, err = s.bandit.StatsSnapshot(exp)
		if err != nil {
			return nil, err
		}
	}

	prompt := BuildExplanationPrompt(exp, &pick, stats)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.gen.Generate(callCtx, explainSystemPrompt, prompt)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("解释生成失败: %v: %w", err, ErrUpstreamUnavailable)
	}

	explanation := &model.Explanation{
		PickID:       pick.ID,
		ExperimentID: exp.ID,
		ArmID:        pick.ArmID,
		Policy:       exp.Policy,
		Rationale:    result.Text,
		Model:        result.Model,
		LatencyMs:    result.LatencyMs,

		PromptTokens:     result.Tokens.Prompt,
		CompletionTokens: result.Tokens.Completion,
		TotalTokens:      result.Tokens.Total,
	}
	if err := db.DB.WithContext(ctx).Create(explanation).Error; err != nil {
		// 并发写撞到 pick_id 唯一索引：返回先落库的那条，保持幂等
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var winner model.Explanation
			if qerr := db.DB.WithContext(ctx).Where("pick_id = ?", pickID).First(&winner).Error; qerr == nil {
				return &winner, nil
			}
		}
		return nil, fmt.Errorf("保存解释失败: %w", err)
	}

	if s.hub != nil {
		s.hub.Broadcast("explanation_created", explanation)
	}
	return explanation, nil
}

// BuildExplanationPrompt 把决策上下文组织成结构化提示词
func BuildExplanationPrompt(exp *model.Experiment, pick *model.Pick, stats []ArmStats) string {
	arms := exp.Arms()

	var b strings.Builder
	fmt.Fprintf(&b, "A multi-armed bandit experiment is comparing %d arms using the %s policy", len(arms), exp.Policy)
	if exp.Policy == PolicyEpsilonGreedy {
		fmt.Fprintf(&b, " (epsilon=%.2f)", exp.Epsilon)
	}
	b.WriteString(".\n\nCurrent per-arm statistics:\n")

	for i, name := range arms {
		var s ArmStats
		if i < len(stats) {
			s = stats[i]
		}
		fmt.Fprintf(&b, "- arm %d (%s): picks=%d, cumulative_reward=%.4f, avg_reward=%.4f\n",
			i, name, s.Picks, s.CumulativeReward, s.MeanReward)
	}

	fmt.Fprintf(&b, "\nThe policy just picked arm %d (%s)", pick.ArmID, armName(arms, pick.ArmID))
	if pick.Reward != nil {
		fmt.Fprintf(&b, ", which later received a reward of %.4f", *pick.Reward)
	}
	b.WriteString(".\n")
	if pick.ContextJSON != "" {
		fmt.Fprintf(&b, "Caller-supplied context: %s\n", pick.ContextJSON)
	}
	b.WriteString("Explain in 2-3 sentences why this arm was chosen given the statistics above.")

	return b.String()
}

func armName(arms []string, armID int) string {
	if armID >= 0 && armID < len(arms) {
		return arms[armID]
	}
	return "unknown"
}
