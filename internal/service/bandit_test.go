package service

import (
	"context"
	"errors"
	"testing"
)

// TestCreateExperiment_Validation 参数校验在任何数据库写入之前完成
func TestCreateExperiment_Validation(t *testing.T) {
	s := NewBanditService(nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		arms   []string
		policy PolicyConfig
	}{
		{"空臂列表", nil, PolicyConfig{Kind: PolicyEpsilonGreedy, Epsilon: 0.1}},
		{"臂名重复", []string{"a", "b", "a"}, PolicyConfig{Kind: PolicyEpsilonGreedy, Epsilon: 0.1}},
		{"epsilon越界", []string{"a", "b"}, PolicyConfig{Kind: PolicyEpsilonGreedy, Epsilon: 2}},
		{"未知策略", []string{"a", "b"}, PolicyConfig{Kind: "softmax"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateExperiment(ctx, "test", tt.arms, tt.policy)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("应返回 ErrInvalidArgument，实际 %v", err)
			}
		})
	}
}
