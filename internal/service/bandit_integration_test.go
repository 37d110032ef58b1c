package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"agent-lab/internal/config"
	"agent-lab/internal/db"
	"agent-lab/internal/model"
)

// setupIntegration 集成测试共用初始化，连不上数据库时跳过
func setupIntegration(t *testing.T) *BanditService {
	t.Helper()

	cfg, err := config.LoadConfig("../../config/config.yaml")
	if err != nil {
		t.Skip("跳过集成测试：无法加载配置文件（请确保 config/config.yaml 存在）")
	}
	if err := db.InitDB(cfg); err != nil {
		t.Skip("跳过集成测试：无法连接数据库")
	}

	return NewBanditService(nil)
}

// TestBanditFlow_Integration 完整流程：创建 -> UCB1 冷启动选臂 -> 结算 -> 指标
func TestBanditFlow_Integration(t *testing.T) {
	s := setupIntegration(t)
	ctx := context.Background()

	exp, err := s.CreateExperiment(ctx, "集成测试", []string{"llama-chat", "cerebras-coder", "baseline"}, PolicyConfig{Kind: PolicyUCB1})
	if err != nil {
		t.Fatalf("创建实验失败: %v", err)
	}
	t.Logf("创建实验 ID=%d", exp.ID)

	// UCB1 冷启动：前 3 次选臂必须按下标升序各选一次
	var picks []*model.Pick
	for i := 0; i < 3; i++ {
		pick, err := s.RecordPick(ctx, exp.ID, map[string]interface{}{"round": i})
		if err != nil {
			t.Fatalf("选臂失败: %v", err)
		}
		if pick.ArmID != i {
			t.Fatalf("冷启动第 %d 轮应选臂 %d，实际 %d", i, i, pick.ArmID)
		}
		picks = append(picks, pick)
	}

	// 按 pick_id 结算
	rewards := []float64{0.2, 0.9, 0.5}
	for i, pick := range picks {
		if _, err := s.RecordReward(ctx, exp.ID, &pick.ID, nil, rewards[i]); err != nil {
			t.Fatalf("结算失败: %v", err)
		}
	}

	// 重复结算必须失败，且原回报不变
	if _, err := s.RecordReward(ctx, exp.ID, &picks[1].ID, nil, 0.1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("重复结算应返回 ErrInvalidArgument，实际 %v", err)
	}
	var unchanged model.Pick
	if err := db.DB.First(&unchanged, picks[1].ID).Error; err != nil {
		t.Fatalf("查询Pick失败: %v", err)
	}
	if unchanged.Reward == nil || math.Abs(*unchanged.Reward-0.9) > 1e-9 {
		t.Fatalf("重复结算不应改变原回报: %v", unchanged.Reward)
	}

	// 指标：每臂 1 次，均值等于各自回报
	metrics, err := s.GetMetrics(ctx, exp.ID)
	if err != nil {
		t.Fatalf("查询指标失败: %v", err)
	}
	if len(metrics) != 3 {
		t.Fatalf("应返回 3 个臂的指标，实际 %d", len(metrics))
	}
	for i, m := range metrics {
		if m.Picks != 1 {
			t.Errorf("臂 %d picks 应为 1，实际 %d", i, m.Picks)
		}
		if math.Abs(m.MeanReward-rewards[i]) > 1e-9 {
			t.Errorf("臂 %d mean 应为 %v，实际 %v", i, rewards[i], m.MeanReward)
		}
	}

	// 增量缓存与全量重算一致
	var allPicks []model.Pick
	if err := db.DB.Where("experiment_id = ?", exp.ID).Order("id asc").Find(&allPicks).Error; err != nil {
		t.Fatalf("查询Pick失败: %v", err)
	}
	recomputed := ComputeArmStats(allPicks, 3)
	snapshot, err := s.StatsSnapshot(exp)
	if err != nil {
		t.Fatalf("取快照失败: %v", err)
	}
	for i := range snapshot {
		if snapshot[i] != recomputed[i] {
			t.Errorf("臂 %d 增量与重算不一致: %+v vs %+v", i, snapshot[i], recomputed[i])
		}
	}
}

// TestRecordReward_ByArmID_Integration 按 arm_id 结算最近一条未结算 Pick
func TestRecordReward_ByArmID_Integration(t *testing.T) {
	s := setupIntegration(t)
	ctx := context.Background()

	exp, err := s.CreateExperiment(ctx, "按臂结算", []string{"a", "b"}, PolicyConfig{Kind: PolicyUCB1})
	if err != nil {
		t.Fatalf("创建实验失败: %v", err)
	}

	first, err := s.RecordPick(ctx, exp.ID, nil)
	if err != nil {
		t.Fatalf("选臂失败: %v", err)
	}

	armID := first.ArmID
	settled, err := s.RecordReward(ctx, exp.ID, nil, &armID, 0.7)
	if err != nil {
		t.Fatalf("按臂结算失败: %v", err)
	}
	if settled.ID != first.ID {
		t.Fatalf("应结算最近一条未结算 Pick %d，实际 %d", first.ID, settled.ID)
	}

	// 该臂已无未结算 Pick
	if _, err := s.RecordReward(ctx, exp.ID, nil, &armID, 0.3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("无未结算Pick时应返回 ErrNotFound，实际 %v", err)
	}

	// 越界臂
	badArm := 9
	if _, err := s.RecordReward(ctx, exp.ID, nil, &badArm, 0.3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("越界臂应返回 ErrNotFound，实际 %v", err)
	}

	// 既无 pick_id 也无 arm_id
	if _, err := s.RecordReward(ctx, exp.ID, nil, nil, 0.3); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("缺少目标应返回 ErrInvalidArgument，实际 %v", err)
	}
}

// TestGetMetrics_NotFound_Integration 未知实验返回 ErrNotFound
func TestGetMetrics_NotFound_Integration(t *testing.T) {
	s := setupIntegration(t)

	if _, err := s.GetMetrics(context.Background(), 999999999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("未知实验应返回 ErrNotFound，实际 %v", err)
	}
}

// TestExplain_Integration 解释失败不影响 Pick；成功时原样落库；重复请求幂等
func TestExplain_Integration(t *testing.T) {
	s := setupIntegration(t)
	ctx := context.Background()

	exp, err := s.CreateExperiment(ctx, "解释测试", []string{"a", "b"}, PolicyConfig{Kind: PolicyEpsilonGreedy, Epsilon: 0})
	if err != nil {
		t.Fatalf("创建实验失败: %v", err)
	}
	pick, err := s.RecordPick(ctx, exp.ID, nil)
	if err != nil {
		t.Fatalf("选臂失败: %v", err)
	}
	if _, err := s.RecordReward(ctx, exp.ID, &pick.ID, nil, 0.6); err != nil {
		t.Fatalf("结算失败: %v", err)
	}

	// 上游失败：返回 ErrUpstreamUnavailable，Pick 保持原样
	failing := NewExplainService(s, failingGenerator(), nil)
	if _, err := failing.Explain(ctx, pick.ID); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("上游失败应返回 ErrUpstreamUnavailable，实际 %v", err)
	}
	var after model.Pick
	if err := db.DB.First(&after, pick.ID).Error; err != nil {
		t.Fatalf("查询Pick失败: %v", err)
	}
	if after.ArmID != pick.ArmID || after.Reward == nil || math.Abs(*after.Reward-0.6) > 1e-9 {
		t.Fatalf("上游失败不应改动 Pick: %+v", after)
	}

	// 上游成功：结果原样落库
	ok := NewExplainService(s, &stubGenerator{result: &GenerateResult{
		Text:      "arm 0 has the best observed mean reward",
		Model:     "llama3.1-8b",
		LatencyMs: 123,
		Tokens:    TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	}}, nil)

	explanation, err := ok.Explain(ctx, pick.ID)
	if err != nil {
		t.Fatalf("生成解释失败: %v", err)
	}
	if explanation.Rationale != "arm 0 has the best observed mean reward" {
		t.Errorf("理由文本不一致: %q", explanation.Rationale)
	}
	if explanation.PickID != pick.ID || explanation.ArmID != pick.ArmID {
		t.Errorf("解释归属不一致: %+v", explanation)
	}
	if explanation.TotalTokens != 15 || explanation.LatencyMs != 123 {
		t.Errorf("用量/延迟不一致: %+v", explanation)
	}

	// 重复请求返回既有记录
	again, err := ok.Explain(ctx, pick.ID)
	if err != nil {
		t.Fatalf("重复请求失败: %v", err)
	}
	if again.ID != explanation.ID {
		t.Fatalf("重复请求应返回既有解释 %d，实际 %d", explanation.ID, again.ID)
	}

	// 未知 Pick
	if _, err := ok.Explain(ctx, 999999999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("未知Pick应返回 ErrNotFound，实际 %v", err)
	}
}

// TestExplain_ConcurrentWriteOnce_Integration 同一 Pick 并发请求解释，
// 上游足够慢让两边都走到生成，最终只落库一条且双方拿到同一条
func TestExplain_ConcurrentWriteOnce_Integration(t *testing.T) {
	s := setupIntegration(t)
	ctx := context.Background()

	exp, err := s.CreateExperiment(ctx, "并发解释", []string{"a", "b"}, PolicyConfig{Kind: PolicyEpsilonGreedy, Epsilon: 0})
	if err != nil {
		t.Fatalf("创建实验失败: %v", err)
	}
	pick, err := s.RecordPick(ctx, exp.ID, nil)
	if err != nil {
		t.Fatalf("选臂失败: %v", err)
	}

	gen := &stubGenerator{
		result: &GenerateResult{Text: "slow rationale", Model: "llama3.1-8b"},
		delay:  200 * time.Millisecond,
	}
	svc := NewExplainService(s, gen, nil)

	results := make([]*model.Explanation, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Explain(ctx, pick.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("并发请求 %d 失败: %v", i, errs[i])
		}
	}
	if results[0].ID != results[1].ID {
		t.Errorf("并发请求应返回同一条解释: %d vs %d", results[0].ID, results[1].ID)
	}

	var count int64
	if err := db.DB.Model(&model.Explanation{}).Where("pick_id = ?", pick.ID).Count(&count).Error; err != nil {
		t.Fatalf("统计解释条数失败: %v", err)
	}
	if count != 1 {
		t.Errorf("每个 Pick 只应有一条解释，实际 %d 条", count)
	}
}

// TestBandit_ConcurrentMutations_Integration 并发选臂与结算下统计仍然一致：
// 总选臂数、回报总和正确，且增量快照与从 Pick 表重算的结果完全一致
func TestBandit_ConcurrentMutations_Integration(t *testing.T) {
	s := setupIntegration(t)
	ctx := context.Background()

	// 两个实验同时压，顺带验证跨实验互不干扰
	var exps []*model.Experiment
	for _, name := range []string{"并发实验A", "并发实验B"} {
		exp, err := s.CreateExperiment(ctx, name, []string{"a", "b", "c"}, PolicyConfig{Kind: PolicyUCB1})
		if err != nil {
			t.Fatalf("创建实验失败: %v", err)
		}
		exps = append(exps, exp)
	}

	const n = 16
	const reward = 0.5

	var wg sync.WaitGroup
	errCh := make(chan error, 2*n)
	for _, exp := range exps {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(expID uint) {
				defer wg.Done()
				pick, err := s.RecordPick(ctx, expID, nil)
				if err != nil {
					errCh <- err
					return
				}
				if _, err := s.RecordReward(ctx, expID, &pick.ID, nil, reward); err != nil {
					errCh <- err
				}
			}(exp.ID)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("并发操作失败: %v", err)
	}

	for _, exp := range exps {
		snapshot, err := s.StatsSnapshot(exp)
		if err != nil {
			t.Fatalf("取快照失败: %v", err)
		}

		var totalPicks int
		var totalReward float64
		for _, st := range snapshot {
			totalPicks += st.Picks
			totalReward += st.CumulativeReward
		}
		if totalPicks != n {
			t.Errorf("实验 %d 总选臂数应为 %d，实际 %d", exp.ID, n, totalPicks)
		}
		if math.Abs(totalReward-n*reward) > 1e-9 {
			t.Errorf("实验 %d 回报总和应为 %v，实际 %v", exp.ID, n*reward, totalReward)
		}

		var picks []model.Pick
		if err := db.DB.Where("experiment_id = ?", exp.ID).Order("id asc").Find(&picks).Error; err != nil {
			t.Fatalf("查询Pick失败: %v", err)
		}
		recomputed := ComputeArmStats(picks, 3)
		for i := range snapshot {
			if snapshot[i] != recomputed[i] {
				t.Errorf("实验 %d 臂 %d 增量与重算不一致: %+v vs %+v", exp.ID, i, snapshot[i], recomputed[i])
			}
		}
	}
}

// TestExplain_UsesDecisionTimeStats_Integration 解释提示词用的是选臂当时的统计，
// 选臂之后结算的回报不应混进每臂统计（但作为事后回报单独出现）
func TestExplain_UsesDecisionTimeStats_Integration(t *testing.T) {
	s := setupIntegration(t)
	ctx := context.Background()

	exp, err := s.CreateExperiment(ctx, "决策时统计", []string{"a", "b"}, PolicyConfig{Kind: PolicyEpsilonGreedy, Epsilon: 0})
	if err != nil {
		t.Fatalf("创建实验失败: %v", err)
	}

	// 首次选臂，当时所有臂统计均为零
	pick, err := s.RecordPick(ctx, exp.ID, nil)
	if err != nil {
		t.Fatalf("选臂失败: %v", err)
	}
	if _, err := s.RecordReward(ctx, exp.ID, &pick.ID, nil, 0.9); err != nil {
		t.Fatalf("结算失败: %v", err)
	}

	gen := &stubGenerator{result: &GenerateResult{Text: "cold start", Model: "llama3.1-8b"}}
	if _, err := NewExplainService(s, gen, nil).Explain(ctx, pick.ID); err != nil {
		t.Fatalf("生成解释失败: %v", err)
	}

	prompt := gen.promptSeen()
	for _, want := range []string{
		"arm 0 (a): picks=0, cumulative_reward=0.0000",
		"arm 1 (b): picks=0, cumulative_reward=0.0000",
		"reward of 0.9000",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("提示词缺少 %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "picks=1") {
		t.Errorf("提示词不应包含结算后的统计:\n%s", prompt)
	}
}
