package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ModelRun 一次后台模型调用（聊天/代码分析），状态机 pending -> running -> completed/failed
type ModelRun struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 使用的模型标识，如 "Cerebras-Coder" / "Llama-Chat"
	ModelUsed string `gorm:"type:varchar(100);not null" json:"model_used"`

	Status string `gorm:"type:varchar(50);not null;default:pending;index" json:"status"`

	// 输入参数，JSON 编码
	InputPayload string `gorm:"type:text;not null" json:"-"`

	// 模型输出（失败时为错误信息）
	Result string `gorm:"type:text" json:"result"`
}

func (r *ModelRun) SetInputPayload(payload map[string]interface{}) {
	b, _ := json.Marshal(payload)
	r.InputPayload = string(b)
}

func (r *ModelRun) GetInputPayload() map[string]interface{} {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(r.InputPayload), &payload); err != nil {
		return map[string]interface{}{}
	}
	return payload
}
