package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"agent-lab/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultCerebrasBaseURL = "https://api.cerebras.ai/v1"
	defaultCerebrasModel   = "llama3.1-8b"
	defaultTimeout         = 30 * time.Second
	defaultMaxTokens       = 800

	// 重试：3 次，0.5s 起步指数退避
	generateRetries = 3
	generateBackoff = 500 * time.Millisecond
)

// TokenUsage 一次生成的 token 消耗
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// GenerateResult 上游文本生成结果，原样透传给调用方
type GenerateResult struct {
	Text      string     `json:"text"`
	Model     string     `json:"model"`
	LatencyMs int64      `json:"latency_ms"`
	Tokens    TokenUsage `json:"tokens"`
}

// TextGenerator 外部文本生成能力的抽象，测试中用桩实现替换
type TextGenerator interface {
	Generate(ctx context.Context, system, prompt string) (*GenerateResult, error)
}

// CerebrasClient 走 Cerebras 的 OpenAI 兼容接口
type CerebrasClient struct {
	client    *openai.Client
	model     string
	timeout   time.Duration
	maxTokens int
}

func NewCerebrasClient(cfg config.CerebrasConfig) *CerebrasClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultCerebrasBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultCerebrasModel
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL

	return &CerebrasClient{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		timeout:   timeout,
		maxTokens: maxTokens,
	}
}

// Generate 调用 chat completions，带重试与延迟测量
func (c *CerebrasClient) Generate(ctx context.Context, system, prompt string) (*GenerateResult, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	if system != "" {
		messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
		}, messages...)
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: 0.2,
	}

	var lastErr error
	for attempt := 0; attempt < generateRetries; attempt++ {
		if attempt > 0 {
			backoff := generateBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("调用被取消: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		t0 := time.Now()
		resp, err := c.client.CreateChatCompletion(callCtx, req)
		latency := time.Since(t0).Milliseconds()
		cancel()

		if err != nil {
			lastErr = err
			log.Printf("[cerebras] 调用失败 (attempt %d/%d): %v", attempt+1, generateRetries, err)
			// 调用方取消或超时就不再重试
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("上游未返回任何 choice")
			continue
		}

		return &GenerateResult{
			Text:      resp.Choices[0].Message.Content,
			Model:     c.model,
			LatencyMs: latency,
			Tokens: TokenUsage{
				Prompt:     resp.Usage.PromptTokens,
				Completion: resp.Usage.CompletionTokens,
				Total:      resp.Usage.TotalTokens,
			},
		}, nil
	}

	return nil, fmt.Errorf("Cerebras 调用失败（重试 %d 次）: %v: %w", generateRetries, lastErr, ErrUpstreamUnavailable)
}
