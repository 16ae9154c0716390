package processor

import (
	"context"

	"cv-ingest-go/internal/types"
)

//
// 摄取流水线的组件接口
// 全部依赖经构造函数显式注入，禁止模块级全局客户端，
// 便于测试替换，也避免并发流水线之间的隐藏共享状态
//

// DocumentCleaner PDF背景清理接口
type DocumentCleaner interface {
	// Clean 把彩色PDF转换为去除背景的黑白PDF
	// 输入无法作为PDF解析时返回错误；不修改输入
	Clean(ctx context.Context, pdfData []byte) ([]byte, error)
}

// OCRExtractor 远程OCR提取接口
// 本层不做重试，失败直接上抛，由流水线决定是否降级
type OCRExtractor interface {
	// ExtractTextFromPDF 提取PDF全文Markdown，各页以空行拼接
	ExtractTextFromPDF(ctx context.Context, pdfData []byte, fileName string) (string, error)

	// ExtractTextAndFirstImageFromPDF 提取PDF全文，并返回第一页的第一张内嵌图片
	// 图片可能为nil；ownerID只做图片归属标记，不影响任何提取决策
	ExtractTextAndFirstImageFromPDF(ctx context.Context, pdfData []byte, fileName string, ownerID string) (string, *types.EmbeddedImage, error)

	// ExtractTextFromImage 提取单张图片的Markdown文本
	ExtractTextFromImage(ctx context.Context, imageData []byte) (string, error)
}

// OCRMerger OCR文本合并接口
type OCRMerger interface {
	// Merge 按固定顺序(先原始后清理)拼接两份OCR文本
	Merge(originalText string, cleanedText string) string
}

// CVStructurer 简历结构化接口
type CVStructurer interface {
	// Structure 把OCR文本转换为结构化简历
	// 限流重试耗尽或上游输出违反schema契约时返回错误
	Structure(ctx context.Context, combinedText string) (*types.StructuredResume, error)
}
