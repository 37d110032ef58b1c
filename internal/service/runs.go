package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"agent-lab/internal/db"
	"agent-lab/internal/model"
)

const (
	ModelCerebrasCoder = "Cerebras-Coder"
	ModelLlamaChat     = "Llama-Chat"
)

// RunService 后台模型调用：创建记录后立即返回，
// 实际推理在 goroutine 中执行，状态变化通过 hub 推送
type RunService struct {
	llm TextGenerator
	hub *Hub
}

func NewRunService(llm TextGenerator, hub *Hub) *RunService {
	return &RunService{llm: llm, hub: hub}
}

// SubmitChat 提交一次聊天补全
func (s *RunService) SubmitChat(ctx context.Context, prompt string) (*model.ModelRun, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt 不能为空: %w", ErrInvalidArgument)
	}

	run := &model.ModelRun{ModelUsed: ModelLlamaChat, Status: model.RunStatusPending}
	run.SetInputPayload(map[string]interface{}{"prompt": prompt})

	if err := db.DB.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("创建运行记录失败: %w", err)
	}

	go s.execute(run.ID, "", prompt)
	return run, nil
}

// SubmitCodeAnalysis 提交一次代码分析
func (s *RunService) SubmitCodeAnalysis(ctx context.Context, code string) (*model.ModelRun, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("code 不能为空: %w", ErrInvalidArgument)
	}

	run := &model.ModelRun{ModelUsed: ModelCerebrasCoder, Status: model.RunStatusPending}
	run.SetInputPayload(map[string]interface{}{"code": code})

	if err := db.DB.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("创建运行记录失败: %w", err)
	}

	go s.execute(run.ID, "", BuildCodeAnalysisPrompt(code))
	return run, nil
}

// GetRun 按 ID 查询运行记录
func (s *RunService) GetRun(ctx context.Context, id uint) (*model.ModelRun, error) {
	var run model.ModelRun
	if err := db.DB.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, fmt.Errorf("运行记录 %d 不存在: %w", id, ErrNotFound)
	}
	return &run, nil
}

// ListRuns 按创建时间倒序列出运行记录
func (s *RunService) ListRuns(ctx context.Context) ([]model.ModelRun, error) {
	var runs []model.ModelRun
	if err := db.DB.WithContext(ctx).Order("created_at desc").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return runs, nil
}

// execute 后台执行一次推理并回写结果
func (s *RunService) execute(runID uint, system, prompt string) {
	ctx := context.Background()

	var run model.ModelRun
	if err := db.DB.First(&run, runID).Error; err != nil {
		log.Printf("[runs] 运行记录 %d 不存在: %v", runID, err)
		return
	}

	s.updateStatus(&run, model.RunStatusRunning, "")

	result, err := s.llm.Generate(ctx, system, prompt)
	if err != nil {
		log.Printf("[runs] 运行 %d 推理失败: %v", runID, err)
		s.updateStatus(&run, model.RunStatusFailed, fmt.Sprintf("Error: %v", err))
		return
	}

	s.updateStatus(&run, model.RunStatusCompleted, result.Text)
}

func (s *RunService) updateStatus(run *model.ModelRun, status, result string) {
	updates := map[string]interface{}{"status": status}
	if result != "" {
		updates["result"] = result
	}
	if err := db.DB.Model(run).Updates(updates).Error; err != nil {
		log.Printf("[runs] 更新运行 %d 状态失败: %v", run.ID, err)
		return
	}
	run.Status = status
	if result != "" {
		run.Result = result
	}
	if s.hub != nil {
		s.hub.Broadcast("run_updated", run)
	}
}

// BuildCodeAnalysisPrompt 代码分析提示词
func BuildCodeAnalysisPrompt(code string) string {
	return fmt.Sprintf(`Thoroughly explain the following code and add detailed comments:

%s

Please provide:
1. A comprehensive explanation of what the code does
2. Line-by-line comments explaining key parts
3. Any potential improvements or issues you notice
4. The code with detailed inline comments added`, "```\n"+code+"\n```")
}
