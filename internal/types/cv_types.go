package types

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// SourceDocument 上传的原始简历文件
// 仅在单次摄取流程中存活，流程结束后即丢弃
type SourceDocument struct {
	FileName string // 原始文件名
	Ext      string // 小写扩展名，不含点，如 "pdf"
	Data     []byte // 原始文件字节
}

// NewSourceDocument 从文件名和字节创建SourceDocument，扩展名统一转为小写
func NewSourceDocument(fileName string, data []byte) SourceDocument {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	return SourceDocument{
		FileName: fileName,
		Ext:      ext,
		Data:     data,
	}
}

// EmbeddedImage OCR服务在文档中检测到的内嵌图片
// 每份文档最多保留一张：第一页的第一张图片
type EmbeddedImage struct {
	ID           string `json:"image_id"`           // OCR服务分配的图片ID
	OwnerID      string `json:"owner_id,omitempty"` // 所属用户标识，仅用于持久化标记
	ImageBase64  string `json:"image_base64"`       // base64编码的图片内容
	TopLeftX     int    `json:"top_left_x"`         // 边界框左上角X
	TopLeftY     int    `json:"top_left_y"`         // 边界框左上角Y
	BottomRightX int    `json:"bottom_right_x"`     // 边界框右下角X
	BottomRightY int    `json:"bottom_right_y"`     // 边界框右下角Y
	PageIndex    int    `json:"page_index"`         // 所在页索引，从0开始
}

// OCRResult 单次OCR调用的产物
type OCRResult struct {
	Markdown string         // 按页序以空行拼接的Markdown文本
	Image    *EmbeddedImage // 第一页的第一张内嵌图片，可能为nil
}

// FlexYear 年份字段，上游LLM可能返回数字或数字字符串，统一解码为整数
// 无法解析时保持为0，不视为错误
type FlexYear int

// UnmarshalJSON 实现宽松的年份解码
func (y *FlexYear) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*y = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*y = FlexYear(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("year字段无法解析: %s", s)
	}
	str = strings.TrimSpace(str)
	if str == "" {
		*y = 0
		return nil
	}
	// 处理 "2020年"、"2020.0" 这类脏数据，取前导数字部分
	digits := str
	for i, r := range str {
		if r < '0' || r > '9' {
			digits = str[:i]
			break
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		*y = 0
		return nil
	}
	*y = FlexYear(n)
	return nil
}

// Education 教育经历条目
type Education struct {
	Year    FlexYear `json:"year"`    // 毕业或获得学位的年份
	School  string   `json:"school"`  // 学校名称
	Degree  string   `json:"degree"`  // 学位
	Details string   `json:"details"` // 补充说明，如专业方向、荣誉
}

// WorkExperience 工作经历条目
type WorkExperience struct {
	JobTitle    string `json:"job_title"`   // 职位名称
	Company     string `json:"company"`     // 公司名称
	Duration    string `json:"duration"`    // 起止时间
	Description string `json:"description"` // 主要职责与成果
}

// Project 项目经历条目
type Project struct {
	Title            string   `json:"title"`             // 项目标题
	Type             string   `json:"type"`              // 项目类型：Academic/Volunteering/Association/Other
	Description      string   `json:"description"`       // 项目描述
	TechnologiesUsed []string `json:"technologies_used"` // 使用的技术栈
}

// StructuredResume 结构化简历，摄取流水线的最终输出
// 约束：所有schema键在输出中始终存在，值允许为空
type StructuredResume struct {
	FirstName      string            `json:"first_name"`
	LastName       string            `json:"last_name"`
	Email          string            `json:"email"`
	Phone          string            `json:"phone"`
	Address        string            `json:"address"`
	Title          string            `json:"title"`   // 职业头衔，允许由LLM推断
	Summary        string            `json:"summary"` // 个人简介，允许由LLM推断
	DrivingLicense string            `json:"driving_license"`
	Education      []Education       `json:"education"`
	WorkExperience []WorkExperience  `json:"work_experience"`
	Projects       []Project         `json:"projects"`
	Hobbies        []string          `json:"hobbies"`
	Languages      map[string]string `json:"languages"` // 语言 -> 熟练程度
	Skills         []string          `json:"skills"`
	Certifications []string          `json:"certifications"`
	Image          *EmbeddedImage    `json:"image"` // 内嵌头像图片，可能为nil
}

// ResumeSchemaKeys LLM结构化响应必须包含的全部键
// 结构化器据此做键集校验，缺键视为上游输出违反契约
var ResumeSchemaKeys = []string{
	"first_name", "last_name", "email", "phone", "address",
	"title", "summary", "driving_license",
	"education", "work_experience", "projects",
	"hobbies", "languages", "skills", "certifications",
}

// Normalize 规整化简历：nil切片和nil映射替换为空值
// 保证JSON序列化后每个键都呈现为 []/{}，而不是null
func (sr *StructuredResume) Normalize() {
	if sr.Education == nil {
		sr.Education = []Education{}
	}
	if sr.WorkExperience == nil {
		sr.WorkExperience = []WorkExperience{}
	}
	if sr.Projects == nil {
		sr.Projects = []Project{}
	}
	if sr.Hobbies == nil {
		sr.Hobbies = []string{}
	}
	if sr.Languages == nil {
		sr.Languages = map[string]string{}
	}
	if sr.Skills == nil {
		sr.Skills = []string{}
	}
	if sr.Certifications == nil {
		sr.Certifications = []string{}
	}
	for i := range sr.Projects {
		if sr.Projects[i].TechnologiesUsed == nil {
			sr.Projects[i].TechnologiesUsed = []string{}
		}
	}
}
