package parser

import (
	"fmt"
	"strings"
)

const (
	// 合并文本中的分节标签，顺序固定：先原始后清理
	labelOriginal = "OCR FROM ORIGINAL"
	labelCleaned  = "OCR FROM CLEANED"
)

// SectionMerger 把原始PDF和清理版PDF的两份OCR文本拼成一个语料
// 只做带标签的语法级拼接，不做去重：重复内容的识别交给下游的LLM结构化器，
// 它有足够的上下文消解歧义，而纯文本层面的语义合并既昂贵又可能丢信息。
type SectionMerger struct{}

// NewSectionMerger 创建OCR文本合并器
func NewSectionMerger() *SectionMerger {
	return &SectionMerger{}
}

// Merge 按固定顺序拼接两份OCR文本
// 任一输入为空时照常拼接，相当于退化为单源结构化
func (m *SectionMerger) Merge(originalText string, cleanedText string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("### %s\n\n", labelOriginal))
	sb.WriteString(originalText)
	sb.WriteString(fmt.Sprintf("\n\n### %s\n\n", labelCleaned))
	sb.WriteString(cleanedText)
	return sb.String()
}
