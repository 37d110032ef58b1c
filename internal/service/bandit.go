package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"agent-lab/internal/db"
	"agent-lab/internal/model"
)

// ArmMetrics 对外暴露的单臂指标
type ArmMetrics struct {
	ArmID int    `json:"arm_id"`
	Name  string `json:"name"`
	ArmStats
}

// BanditService 实验表的唯一写入方。
// 同一实验的变更（选臂、结算）串行化；不同实验互不阻塞。
// 锁只覆盖统计的读-改-写，绝不跨外部调用持有
type BanditService struct {
	hub *Hub

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
	accs  map[uint]*Accumulator
}

func NewBanditService(hub *Hub) *BanditService {
	return &BanditService{
		hub:   hub,
		locks: make(map[uint]*sync.Mutex),
		accs:  make(map[uint]*Accumulator),
	}
}

// expLock 取该实验的互斥锁，没有则建
func (s *BanditService) expLock(id uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// accumulator 取该实验的增量统计，缓存缺失时从 Pick 表重放重建。
// 必须在持有该实验锁时调用
func (s *BanditService) accumulator(exp *model.Experiment) (*Accumulator, error) {
	s.mu.Lock()
	acc, ok := s.accs[exp.ID]
	s.mu.Unlock()
	if ok {
		return acc, nil
	}

	var picks []model.Pick
	if err := db.DB.Where("experiment_id = ?", exp.ID).Order("id asc").Find(&picks).Error; err != nil {
		return nil, fmt.Errorf("查询Pick记录失败: %w", err)
	}

	acc = NewAccumulator(len(exp.Arms()))
	for _, p := range picks {
		acc.RecordPick(p.ArmID)
		if p.Reward != nil {
			acc.RecordReward(p.ArmID, *p.Reward)
		}
	}

	s.mu.Lock()
	s.accs[exp.ID] = acc
	s.mu.Unlock()
	return acc, nil
}

// CreateExperiment 创建实验。臂列表非空且不重名，策略配置即时校验
func (s *BanditService) CreateExperiment(ctx context.Context, name string, arms []string, policy PolicyConfig) (*model.Experiment, error) {
	if len(arms) == 0 {
		return nil, fmt.Errorf("臂列表不能为空: %w", ErrInvalidArgument)
	}
	seen := make(map[string]bool, len(arms))
	for _, a := range arms {
		if seen[a] {
			return nil, fmt.Errorf("臂名称重复 %q: %w", a, ErrInvalidArgument)
		}
		seen[a] = true
	}
	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}

	exp := &model.Experiment{
		Name:    name,
		Policy:  policy.Kind,
		Epsilon: policy.Epsilon,
	}
	exp.SetArms(arms)

	if err := db.DB.WithContext(ctx).Create(exp).Error; err != nil {
		return nil, fmt.Errorf("创建实验失败: %w", err)
	}

	s.mu.Lock()
	s.accs[exp.ID] = NewAccumulator(len(arms))
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Broadcast("experiment_created", exp)
	}
	return exp, nil
}

// GetExperiment 按 ID 查询实验
func (s *BanditService) GetExperiment(ctx context.Context, id uint) (*model.Experiment, error) {
	var exp model.Experiment
	if err := db.DB.WithContext(ctx).First(&exp, id).Error; err != nil {
		return nil, fmt.Errorf("实验 %d 不存在: %w", id, ErrNotFound)
	}
	return &exp, nil
}

// ListExperiments 按创建时间倒序列出所有实验
func (s *BanditService) ListExperiments(ctx context.Context) ([]model.Experiment, error) {
	var exps []model.Experiment
	if err := db.DB.WithContext(ctx).Order("created_at desc").Find(&exps).Error; err != nil {
		return nil, fmt.Errorf("查询实验列表失败: %w", err)
	}
	return exps, nil
}

// RecordPick 按实验策略选一个臂并落一条未结算的 Pick
func (s *BanditService) RecordPick(ctx context.Context, expID uint, pickContext map[string]interface{}) (*model.Pick, error) {
	exp, err := s.GetExperiment(ctx, expID)
	if err != nil {
		return nil, err
	}

	lock := s.expLock(expID)
	lock.Lock()
	defer lock.Unlock()

	acc, err := s.accumulator(exp)
	if err != nil {
		return nil, err
	}

	// 选臂用的快照随 Pick 一起落库，解释生成要还原决策当时的统计
	stats := acc.Snapshot()
	armID, err := SelectArm(stats, PolicyConfig{Kind: exp.Policy, Epsilon: exp.Epsilon})
	if err != nil {
		return nil, err
	}

	pick := &model.Pick{
		ExperimentID: expID,
		ArmID:        armID,
	}
	if b, err := json.Marshal(stats); err == nil {
		pick.StatsJSON = string(b)
	}
	if len(pickContext) > 0 {
		b, _ := json.Marshal(pickContext)
		pick.ContextJSON = string(b)
	}

	if err := db.DB.WithContext(ctx).Create(pick).Error; err != nil {
		return nil, fmt.Errorf("保存Pick失败: %w", err)
	}
	acc.RecordPick(armID)

	if s.hub != nil {
		s.hub.Broadcast("pick_created", pick)
	}
	return pick, nil
}

// RecordReward 给 Pick 结算回报，每条 Pick 只允许结算一次。
// pickID 显式指定优先；否则按 armID 找该臂最近一条未结算的 Pick
func (s *BanditService) RecordReward(ctx context.Context, expID uint, pickID *uint, armID *int, reward float64) (*model.Pick, error) {
	exp, err := s.GetExperiment(ctx, expID)
	if err != nil {
		return nil, err
	}

	lock := s.expLock(expID)
	lock.Lock()
	defer lock.Unlock()

	var pick model.Pick
	switch {
	case pickID != nil:
		if err := db.DB.WithContext(ctx).Where("id = ? AND experiment_id = ?", *pickID, expID).First(&pick).Error; err != nil {
			return nil, fmt.Errorf("Pick %d 不存在: %w", *pickID, ErrNotFound)
		}
		if pick.Reward != nil {
			return nil, fmt.Errorf("Pick %d 已结算过回报: %w", pick.ID, ErrInvalidArgument)
		}
	case armID != nil:
		if *armID < 0 || *armID >= len(exp.Arms()) {
			return nil, fmt.Errorf("臂 %d 不存在: %w", *armID, ErrNotFound)
		}
		err := db.DB.WithContext(ctx).
			Where("experiment_id = ? AND arm_id = ? AND reward IS NULL", expID, *armID).
			Order("id desc").First(&pick).Error
		if err != nil {
			return nil, fmt.Errorf("臂 %d 没有未结算的Pick: %w", *armID, ErrNotFound)
		}
	default:
		return nil, fmt.Errorf("必须指定 pick_id 或 arm_id: %w", ErrInvalidArgument)
	}

	if err := db.DB.WithContext(ctx).Model(&pick).Update("reward", reward).Error; err != nil {
		return nil, fmt.Errorf("写入回报失败: %w", err)
	}
	pick.Reward = &reward

	acc, err := s.accumulator(exp)
	if err != nil {
		return nil, err
	}
	acc.RecordReward(pick.ArmID, reward)

	if s.hub != nil {
		s.hub.Broadcast("reward_logged", pick)
	}
	return &pick, nil
}

// GetMetrics 返回全部臂的统计（含零次的臂）
func (s *BanditService) GetMetrics(ctx context.Context, expID uint) ([]ArmMetrics, error) {
	exp, err := s.GetExperiment(ctx, expID)
	if err != nil {
		return nil, err
	}

	stats, err := s.StatsSnapshot(exp)
	if err != nil {
		return nil, err
	}

	arms := exp.Arms()
	metrics := make([]ArmMetrics, len(arms))
	for i := range arms {
		metrics[i] = ArmMetrics{ArmID: i, Name: arms[i], ArmStats: stats[i]}
	}
	return metrics, nil
}

// StatsSnapshot 在实验锁内取一份一致的统计快照
func (s *BanditService) StatsSnapshot(exp *model.Experiment) ([]ArmStats, error) {
	lock := s.expLock(exp.ID)
	lock.Lock()
	defer lock.Unlock()

	acc, err := s.accumulator(exp)
	if err != nil {
		return nil, err
	}
	return acc.Snapshot(), nil
}
