package parser

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-ingest-go/internal/agent"
	"cv-ingest-go/internal/types"
)

// fullResumeJSON 覆盖全部schema键的合法响应
const fullResumeJSON = `{
	"first_name": "Jane",
	"last_name": "Smith",
	"email": "jane.smith@example.com",
	"phone": "+33 6 12 34 56 78",
	"address": "10 Rue de la Paix, Paris",
	"title": "Data Analyst",
	"summary": "Analyst with 5 years of experience.",
	"driving_license": "B",
	"education": [
		{"year": 2020, "school": "Sorbonne", "degree": "MSc Statistics", "details": "Honors"}
	],
	"work_experience": [
		{"job_title": "Data Analyst", "company": "Acme", "duration": "2020 - 2024", "description": "Dashboards"}
	],
	"projects": [
		{"title": "Churn model", "type": "Academic", "description": "Predictive model", "technologies_used": ["Python", "SQL"]}
	],
	"hobbies": ["Chess"],
	"languages": {"French": "Native", "English": "Fluent"},
	"skills": ["SQL", "Python"],
	"certifications": []
}`

func TestStructurerHappyPath(t *testing.T) {
	mockModel := agent.NewMockChatModel(fullResumeJSON, nil)
	structurer := NewLLMCVStructurer(mockModel, nil)

	resume, err := structurer.Structure(context.Background(), "### OCR FROM ORIGINAL\n\nJane Smith\nData Analyst")
	require.NoError(t, err)
	require.NotNil(t, resume)

	assert.Equal(t, "Jane", resume.FirstName)
	assert.Equal(t, "Smith", resume.LastName)
	assert.Equal(t, "jane.smith@example.com", resume.Email)
	assert.Equal(t, "Data Analyst", resume.Title)
	require.Len(t, resume.Education, 1)
	assert.Equal(t, types.FlexYear(2020), resume.Education[0].Year)
	require.Len(t, resume.Projects, 1)
	assert.Equal(t, []string{"Python", "SQL"}, resume.Projects[0].TechnologiesUsed)
	assert.Equal(t, "Fluent", resume.Languages["English"])
	// certifications为空数组而不是nil
	assert.NotNil(t, resume.Certifications)
	assert.Empty(t, resume.Certifications)

	assert.Equal(t, 1, mockModel.CallCount)
	// OCR文本原样进入提示词
	require.Len(t, mockModel.ReceivedMessages, 1)
	assert.Contains(t, mockModel.ReceivedMessages[0].Content, "Jane Smith")
}

func TestStructurerMissingSchemaKeysFailsWithoutRetry(t *testing.T) {
	// 合法JSON但缺少大部分schema键
	mockModel := agent.NewMockChatModel(`{"first_name": "Jane", "last_name": "Smith"}`, nil)
	structurer := NewLLMCVStructurer(mockModel, nil)

	resume, err := structurer.Structure(context.Background(), "text")
	require.Error(t, err)
	assert.Nil(t, resume)
	assert.Contains(t, err.Error(), "email")
	// 契约违反不属于可重试错误
	assert.Equal(t, 1, mockModel.CallCount)
}

func TestStructurerInvalidJSONFailsWithoutRetry(t *testing.T) {
	mockModel := agent.NewMockChatModel("I am sorry, I cannot do that.", nil)
	structurer := NewLLMCVStructurer(mockModel, nil)

	resume, err := structurer.Structure(context.Background(), "text")
	require.Error(t, err)
	assert.Nil(t, resume)
	assert.Equal(t, 1, mockModel.CallCount)
}

func TestStructurerRetriesOnRateLimitThenSucceeds(t *testing.T) {
	rateLimitErr := &agent.APIError{StatusCode: 429, Body: "rate limit exceeded"}
	mockModel := agent.NewMockChatModelSequential([]agent.MockResponse{
		{Error: rateLimitErr},
		{Error: rateLimitErr},
		{Content: fullResumeJSON},
	})
	structurer := NewLLMCVStructurer(mockModel, nil,
		WithStructurerRetryPolicy(5, time.Millisecond))

	resume, err := structurer.Structure(context.Background(), "text")
	require.NoError(t, err)
	require.NotNil(t, resume)
	assert.Equal(t, 3, mockModel.CallCount)
}

func TestStructurerExhaustsRateLimitRetries(t *testing.T) {
	rateLimitErr := &agent.APIError{StatusCode: 429, Body: "rate limit exceeded"}
	mockModel := agent.NewMockChatModel("", rateLimitErr)
	structurer := NewLLMCVStructurer(mockModel, nil,
		WithStructurerRetryPolicy(5, time.Millisecond))

	resume, err := structurer.Structure(context.Background(), "text")
	require.Error(t, err)
	assert.Nil(t, resume)
	// 最多5次尝试（含首次）
	assert.Equal(t, 5, mockModel.CallCount)
}

func TestStructurerNonRateLimitErrorNotRetried(t *testing.T) {
	serverErr := &agent.APIError{StatusCode: 500, Body: "internal error"}
	mockModel := agent.NewMockChatModel("", serverErr)
	structurer := NewLLMCVStructurer(mockModel, nil,
		WithStructurerRetryPolicy(5, time.Millisecond))

	_, err := structurer.Structure(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, 1, mockModel.CallCount)
}

func TestStructurerLenientYearParsing(t *testing.T) {
	// year以字符串形式出现也能解析
	response := `{
		"first_name": "", "last_name": "", "email": "", "phone": "", "address": "",
		"title": "", "summary": "", "driving_license": "",
		"education": [
			{"year": "2019", "school": "A", "degree": "", "details": ""},
			{"year": "2021年", "school": "B", "degree": "", "details": ""},
			{"year": null, "school": "C", "degree": "", "details": ""}
		],
		"work_experience": [], "projects": [], "hobbies": [],
		"languages": {}, "skills": [], "certifications": []
	}`
	mockModel := agent.NewMockChatModel(response, nil)
	structurer := NewLLMCVStructurer(mockModel, nil)

	resume, err := structurer.Structure(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, resume.Education, 3)
	assert.Equal(t, types.FlexYear(2019), resume.Education[0].Year)
	assert.Equal(t, types.FlexYear(2021), resume.Education[1].Year)
	assert.Equal(t, types.FlexYear(0), resume.Education[2].Year)
}

func TestStructurerDeterministicForSameInput(t *testing.T) {
	// 同一OCR文本在固定响应下两次结构化，序列化结果必须逐字节一致
	mockModel := agent.NewMockChatModel(fullResumeJSON, nil)
	structurer := NewLLMCVStructurer(mockModel, nil)

	combined := "### OCR FROM ORIGINAL\n\nJane Smith\n\n### OCR FROM CLEANED\n\nJane Smith"

	first, err := structurer.Structure(context.Background(), combined)
	require.NoError(t, err)
	second, err := structurer.Structure(context.Background(), combined)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON)

	// 两次调用送往模型的提示词也一致
	require.Len(t, mockModel.ReceivedMessages, 2)
	assert.Equal(t, mockModel.ReceivedMessages[0].Content, mockModel.ReceivedMessages[1].Content)
}

func TestStructurerContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mockModel := agent.NewMockChatModel(fullResumeJSON, nil)
	structurer := NewLLMCVStructurer(mockModel, nil)

	_, err := structurer.Structure(ctx, "text")
	require.Error(t, err)
}
