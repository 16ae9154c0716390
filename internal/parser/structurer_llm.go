package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"cv-ingest-go/internal/agent"
	"cv-ingest-go/internal/retry"
	"cv-ingest-go/internal/types"
)

const (
	// 限流重试参数：最多5次尝试，首次等待1秒后逐次翻倍
	defaultStructurerMaxAttempts = 5
	defaultStructurerBaseDelay   = 1 * time.Second
	// 单次LLM调用的超时
	defaultStructurerCallTimeout = 60 * time.Second
)

// cvStructuringPrompt 简历结构化提示词
// 提取策略：缺失字段留空而不编造；两个OCR分节视为同一份文档并去重；
// 冲突时取更清晰的读取结果；仅允许对title/summary做推断；所有键必须输出。
const cvStructuringPrompt = `This is the OCR-extracted text from a resume, formatted in Markdown:
<BEGIN_PDF_OCR>
%s
<END_PDF_OCR>

The text may contain two sections labeled "OCR FROM ORIGINAL" and "OCR FROM CLEANED".
These are two OCR passes over the same document (the second pass was made on a
background-stripped black-and-white rendering). Treat them as ONE resume.

Convert this into a well-structured JSON response following the exact schema below.
Extract as much relevant information as possible from the resume.
If any information is missing, leave the field empty but keep the structure intact.

### Expected JSON Structure:
{
    "first_name": "Candidate's first name",
    "last_name": "Candidate's last name",
    "email": "Candidate's email",
    "phone": "Candidate's phone number",
    "address": "Full postal address",
    "title": "Professional title (e.g., 'Data Analyst')",
    "summary": "Short professional summary, 2-3 sentences",
    "driving_license": "Type of driving license (if mentioned, else empty)",
    "education": [
        {
            "year": 2020,
            "school": "University/School Name",
            "degree": "Degree obtained",
            "details": "Additional details (e.g., specialization, honors)"
        }
    ],
    "work_experience": [
        {
            "job_title": "Job title",
            "company": "Company name",
            "duration": "Start - End date",
            "description": "Key responsibilities and achievements"
        }
    ],
    "projects": [
        {
            "title": "Project title",
            "type": "Academic | Volunteering | Association | Other",
            "description": "Detailed description of the project",
            "technologies_used": ["Tech1", "Tech2"]
        }
    ],
    "hobbies": ["List of hobbies"],
    "languages": {
        "Language1": "Proficiency level (e.g., Beginner, Intermediate, Fluent)"
    },
    "skills": ["List of technical and soft skills"],
    "certifications": ["List of certifications, if any"]
}

### Additional Instructions:
1. **Extract all available information from the CV and match it to the correct fields.**
2. **Do not invent information that is not present in the text. If a field is not available, leave it empty but maintain the structure.**
3. **Deduplicate entries that appear in both OCR sections. When the two reads conflict, prefer the clearer one.**
4. **Exception to rule 2: if no explicit professional title or summary is present, you may infer a concise "title" and "summary" from the rest of the resume. This inference is allowed for these two fields only.**
5. **Group all project-related experiences under ` + "`projects`" + `, whether academic, volunteering, or associative.**
6. **Use lists for multiple entries and avoid duplicates.**
7. **Every key of the schema must be present in the output.**

The output **must** be a valid JSON object **with no extra commentary or explanations**.`

// emailShapePattern 宽松的邮箱形状校验，仅用于告警
var emailShapePattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// LLMCVStructurer 把合并后的OCR文本交给LLM，解析为规整的结构化简历
// 仅对限流(429)错误做指数退避重试；JSON解析失败或键集不完整属于上游输出
// 违反契约，立即失败不重试。
type LLMCVStructurer struct {
	llmModel model.ToolCallingChatModel

	maxAttempts int
	baseDelay   time.Duration
	callTimeout time.Duration

	logger *log.Logger
}

// StructurerOption LLMCVStructurer的配置选项
type StructurerOption func(*LLMCVStructurer)

// WithStructurerRetryPolicy 设置限流重试策略
func WithStructurerRetryPolicy(maxAttempts int, baseDelay time.Duration) StructurerOption {
	return func(s *LLMCVStructurer) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			s.baseDelay = baseDelay
		}
	}
}

// WithStructurerCallTimeout 设置单次LLM调用超时
func WithStructurerCallTimeout(timeout time.Duration) StructurerOption {
	return func(s *LLMCVStructurer) {
		if timeout > 0 {
			s.callTimeout = timeout
		}
	}
}

// NewLLMCVStructurer 创建LLM简历结构化器
func NewLLMCVStructurer(llmModel model.ToolCallingChatModel, logger *log.Logger, options ...StructurerOption) *LLMCVStructurer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &LLMCVStructurer{
		llmModel:    llmModel,
		maxAttempts: defaultStructurerMaxAttempts,
		baseDelay:   defaultStructurerBaseDelay,
		callTimeout: defaultStructurerCallTimeout,
		logger:      logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Structure 把合并后的OCR文本转换为StructuredResume
func (s *LLMCVStructurer) Structure(ctx context.Context, combinedText string) (*types.StructuredResume, error) {
	// 单条user消息承载全部指令和OCR文本
	messages := []*einoschema.Message{
		{Role: einoschema.User, Content: fmt.Sprintf(cvStructuringPrompt, combinedText)},
	}

	var response *einoschema.Message
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: s.maxAttempts,
		BaseDelay:   s.baseDelay,
		Retryable:   agent.IsRateLimitError,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.logger.Printf("结构化服务限流，%.1f秒后重试 (第%d次尝试): %v", delay.Seconds(), attempt, err)
		},
	}, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		resp, genErr := s.llmModel.Generate(callCtx, messages)
		if genErr != nil {
			return genErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("LLM结构化调用失败: %w", err)
	}

	resume, err := s.parseResponse(response.Content)
	if err != nil {
		return nil, fmt.Errorf("解析LLM结构化响应失败: %w", err)
	}
	return resume, nil
}

// parseResponse 把LLM响应体解析为StructuredResume，并做键集校验
func (s *LLMCVStructurer) parseResponse(content string) (*types.StructuredResume, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		s.logger.Printf("LLM响应不是合法JSON。原始响应: %.200s", content)
		return nil, fmt.Errorf("响应不是合法的JSON对象: %w", err)
	}

	// 键集校验：上游被要求输出全部schema键，缺键说明输出违反契约
	var missing []string
	for _, key := range types.ResumeSchemaKeys {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("响应缺少schema键: %s", strings.Join(missing, ", "))
	}

	var resume types.StructuredResume
	if err := json.Unmarshal([]byte(content), &resume); err != nil {
		return nil, fmt.Errorf("响应与简历schema不匹配: %w", err)
	}

	resume.Normalize()
	s.sanityCheck(&resume)
	return &resume, nil
}

// sanityCheck 轻量级产出校验，只告警不拒绝
// 提示词里的"不编造"约束对LLM并非硬保证，这里留下可审计的痕迹
func (s *LLMCVStructurer) sanityCheck(resume *types.StructuredResume) {
	if resume.Email != "" && !emailShapePattern.MatchString(resume.Email) {
		s.logger.Printf("[WARN] email字段不符合邮箱格式: %.60s", resume.Email)
	}
	currentYear := time.Now().Year()
	for _, edu := range resume.Education {
		if y := int(edu.Year); y != 0 && (y < 1900 || y > currentYear+10) {
			s.logger.Printf("[WARN] education.year超出合理范围: %d", y)
		}
	}
}
