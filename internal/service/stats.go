package service

import (
	"agent-lab/internal/model"
)

// ArmStats 单臂运行统计。picks 在选臂时即计数，回报结算后累加进 cumulative
type ArmStats struct {
	Picks            int     `json:"picks"`
	CumulativeReward float64 `json:"cumulative_reward"`
	MeanReward       float64 `json:"avg_reward"`
}

// Accumulator 按臂维护的增量统计，单次更新 O(1)。
// 与 ComputeArmStats 的全量重算结果必须一致（见 stats_test）
type Accumulator struct {
	arms []ArmStats
}

func NewAccumulator(numArms int) *Accumulator {
	return &Accumulator{arms: make([]ArmStats, numArms)}
}

// RecordPick 记录一次选臂
func (a *Accumulator) RecordPick(armID int) {
	if armID < 0 || armID >= len(a.arms) {
		return
	}
	s := &a.arms[armID]
	s.Picks++
	s.MeanReward = s.CumulativeReward / float64(s.Picks)
}

// RecordReward 记录一次回报结算
func (a *Accumulator) RecordReward(armID int, reward float64) {
	if armID < 0 || armID >= len(a.arms) {
		return
	}
	s := &a.arms[armID]
	s.CumulativeReward += reward
	if s.Picks > 0 {
		s.MeanReward = s.CumulativeReward / float64(s.Picks)
	}
}

// Snapshot 返回统计副本，调用方可安全持有
func (a *Accumulator) Snapshot() []ArmStats {
	out := make([]ArmStats, len(a.arms))
	copy(out, a.arms)
	return out
}

// TotalPicks 全部臂的选臂总次数
func (a *Accumulator) TotalPicks() int {
	total := 0
	for _, s := range a.arms {
		total += s.Picks
	}
	return total
}

// ComputeArmStats 从 Pick 序列全量重算统计。
// 零次的臂报告 picks=0、mean=0，不视为错误
func ComputeArmStats(picks []model.Pick, numArms int) []ArmStats {
	acc := NewAccumulator(numArms)
	for _, p := range picks {
		acc.RecordPick(p.ArmID)
		if p.Reward != nil {
			acc.RecordReward(p.ArmID, *p.Reward)
		}
	}
	return acc.Snapshot()
}
