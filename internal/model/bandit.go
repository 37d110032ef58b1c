package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Experiment 多臂老虎机实验。臂列表创建后不可变，以 JSON 数组存储
type Experiment struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name string `gorm:"type:varchar(100)" json:"name"`

	// 臂名称列表（有序、去重），JSON 编码
	ArmsJSON string `gorm:"type:text;not null" json:"-"`

	// 策略类型：epsilon_greedy / ucb1
	Policy  string  `gorm:"type:varchar(50);not null" json:"policy"`
	Epsilon float64 `gorm:"type:decimal(4,3);default:0.1" json:"epsilon"`
}

func (e *Experiment) Arms() []string {
	var arms []string
	_ = json.Unmarshal([]byte(e.ArmsJSON), &arms)
	return arms
}

func (e *Experiment) SetArms(arms []string) {
	b, _ := json.Marshal(arms)
	e.ArmsJSON = string(b)
}

// Pick 一次选臂事件。reward 与 explanation 各自最多写入一次
type Pick struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 只通过 ID 引用所属实验，避免循环引用
	ExperimentID uint `gorm:"not null;index" json:"experiment_id"`

	// 臂下标（0 起始，对应实验臂列表）
	ArmID int `gorm:"not null" json:"arm_id"`

	// 调用方自定义上下文，JSON 编码
	ContextJSON string `gorm:"type:text" json:"context,omitempty"`

	// 决策时各臂统计的快照，JSON 编码，供解释生成还原当时上下文
	StatsJSON string `gorm:"type:text" json:"-"`

	// 回报，nil 表示尚未结算
	Reward *float64 `json:"reward"`
}

// Explanation LLM 生成的选臂理由，归属于某个 Pick
type Explanation struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 每个 Pick 至多一条解释，靠唯一索引兜底并发写入
	PickID       uint `gorm:"not null;uniqueIndex" json:"pick_id"`
	ExperimentID uint `gorm:"index" json:"experiment_id"`
	ArmID        int  `json:"arm_id"`

	Policy    string `gorm:"type:varchar(50)" json:"policy"`
	Rationale string `gorm:"type:text;not null" json:"rationale"`
	Model     string `gorm:"type:varchar(100)" json:"model"`
	LatencyMs int64  `json:"latency_ms"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
