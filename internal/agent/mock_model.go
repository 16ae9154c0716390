package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse 定义了MockChatModel的单次预期响应
type MockResponse struct {
	Content string
	Error   error
}

// MockChatModel 用于测试的 model.ToolCallingChatModel 模拟实现
// 支持固定响应和按序响应两种模式，并记录收到的全部消息
type MockChatModel struct {
	// 固定响应模式
	ExpectedResponse string
	ExpectedError    error

	// 按序响应模式
	SequentialResponses []MockResponse
	ResponseIndex       int
	IsSequential        bool

	// 调用记录，供测试断言
	CallCount        int
	ReceivedMessages []*schema.Message
}

// NewMockChatModel 创建一个返回固定响应的MockChatModel
func NewMockChatModel(expectedResponse string, expectedError error) *MockChatModel {
	return &MockChatModel{
		ExpectedResponse: expectedResponse,
		ExpectedError:    expectedError,
		ReceivedMessages: make([]*schema.Message, 0),
	}
}

// NewMockChatModelSequential 创建一个按顺序返回不同响应的MockChatModel
func NewMockChatModelSequential(responses []MockResponse) *MockChatModel {
	if len(responses) == 0 {
		// 避免panic：空配置退化为永远报错的mock
		responses = []MockResponse{{Error: errors.New("mock模型未配置任何响应")}}
	}
	return &MockChatModel{
		SequentialResponses: responses,
		IsSequential:        true,
		ReceivedMessages:    make([]*schema.Message, 0),
	}
}

// Generate 模拟LLM的Generate方法
func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.CallCount++
	m.ReceivedMessages = append(m.ReceivedMessages, input...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.IsSequential {
		if m.ResponseIndex >= len(m.SequentialResponses) {
			return nil, errors.New("mock模型的按序响应已耗尽")
		}
		resp := m.SequentialResponses[m.ResponseIndex]
		m.ResponseIndex++
		if resp.Error != nil {
			return nil, resp.Error
		}
		return &schema.Message{Role: schema.Assistant, Content: resp.Content}, nil
	}

	if m.ExpectedError != nil {
		return nil, m.ExpectedError
	}
	return &schema.Message{Role: schema.Assistant, Content: m.ExpectedResponse}, nil
}

// Stream 模拟LLM的Stream方法，测试中不使用
func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("MockChatModel 的 Stream 方法未实现")
}

// WithTools 模拟WithTools方法，直接返回自身
func (m *MockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

var _ model.ToolCallingChatModel = (*MockChatModel)(nil)
