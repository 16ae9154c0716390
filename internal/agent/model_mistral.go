package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// Mistral 官方聊天补全端点
	defaultMistralChatAPIURL = "https://api.mistral.ai/v1/chat/completions"
	// 用于结构化任务的默认模型
	defaultMistralModelName = "ministral-8b-latest"
	// 单次聊天请求的HTTP超时
	defaultChatHTTPTimeout = 60 * time.Second
)

// APIError 表示Mistral API返回的非200响应
// 结构化器的重试判定依赖StatusCode字段
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mistral api请求失败，状态码 %d: %s", e.StatusCode, e.Body)
}

// IsRateLimitError 判断错误是否为限流(429)错误
// 兼容两种形态：类型化的APIError，以及上游SDK只暴露字符串的场景
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return strings.Contains(err.Error(), "429")
}

// MistralChatModel 实现 model.ToolCallingChatModel 接口，
// 通过OpenAI兼容的HTTP协议与Mistral聊天补全API交互。
// 结构化任务固定使用JSON响应模式和温度0，保证输出可解析且可复现。
type MistralChatModel struct {
	apiKey     string
	modelName  string
	apiURL     string
	jsonMode   bool
	httpClient *http.Client
	logger     *log.Logger
}

// MistralModelOption MistralChatModel的配置选项
type MistralModelOption func(*MistralChatModel)

// WithMistralModelLogger 设置自定义日志记录器
func WithMistralModelLogger(logger *log.Logger) MistralModelOption {
	return func(m *MistralChatModel) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithJSONMode 设置是否请求严格JSON响应(response_format: json_object)
func WithJSONMode(enabled bool) MistralModelOption {
	return func(m *MistralChatModel) {
		m.jsonMode = enabled
	}
}

// WithHTTPClient 替换内部HTTP客户端，主要用于测试
func WithHTTPClient(client *http.Client) MistralModelOption {
	return func(m *MistralChatModel) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// NewMistralChatModel 创建一个新的MistralChatModel实例
func NewMistralChatModel(apiKey string, modelName string, apiURL string, options ...MistralModelOption) (*MistralChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultMistralModelName
	}

	url := apiURL
	if strings.TrimSpace(url) == "" {
		url = defaultMistralChatAPIURL
	}

	m := &MistralChatModel{
		apiKey:     apiKey,
		modelName:  mn,
		apiURL:     url,
		jsonMode:   true,
		httpClient: &http.Client{Timeout: defaultChatHTTPTimeout},
		logger:     log.New(io.Discard, "[MistralChatModel] ", log.LstdFlags),
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// --- OpenAI兼容的请求/响应结构 ---

type mistralResponseFormat struct {
	Type string `json:"type"` // "json_object"
}

type mistralChatRequest struct {
	Model          string                 `json:"model"`
	Messages       []*schema.Message      `json:"messages"` // schema.Message的role/content序列化与OpenAI协议兼容
	Temperature    *float64               `json:"temperature,omitempty"`
	ResponseFormat *mistralResponseFormat `json:"response_format,omitempty"`
}

type mistralChatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type mistralChatResponse struct {
	Id      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []mistralChatChoice `json:"choices"`
}

// Generate 实现 model.ChatModel 接口
func (m *MistralChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	for _, opt := range options {
		_ = opt // 本模型不消费通用调用选项，配置均在构造时完成
	}

	temp := 0.0
	reqPayload := mistralChatRequest{
		Model:       m.modelName,
		Messages:    messages,
		Temperature: &temp,
	}
	if m.jsonMode {
		reqPayload.ResponseFormat = &mistralResponseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	m.logger.Printf("发送请求到 %s，模型 %s，消息数 %d", m.apiURL, m.modelName, len(messages))

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: httpResp.StatusCode, Body: string(bodyBytes)}
	}

	var chatResp mistralChatResponse
	if err := json.Unmarshal(bodyBytes, &chatResp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w。响应体: %.200s", err, string(bodyBytes))
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项: %.200s", string(bodyBytes))
	}

	apiMessage := chatResp.Choices[0].Message
	resultMessage := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: apiMessage.Content,
	}
	if resultMessage.Role == "" {
		resultMessage.Role = schema.RoleType("assistant")
	}

	m.logger.Printf("收到响应: FinishReason=%s, 内容长度=%d", chatResp.Choices[0].FinishReason, len(apiMessage.Content))
	return resultMessage, nil
}

// Stream 实现 model.ChatModel 接口
// 结构化任务不需要流式输出，保持未实现
func (m *MistralChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("MistralChatModel 的 Stream 方法未实现")
}

// WithTools 实现 model.ToolCallingChatModel 接口
// 简历结构化只走单轮JSON补全，不支持工具调用
func (m *MistralChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return nil, fmt.Errorf("MistralChatModel 不支持工具调用")
}

var _ model.ToolCallingChatModel = (*MistralChatModel)(nil)
