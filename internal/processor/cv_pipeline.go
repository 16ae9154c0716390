package processor

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"cv-ingest-go/internal/tracing"
	"cv-ingest-go/internal/types"
)

// Stage 流水线阶段标识，用于日志与追踪属性
type Stage string

const (
	StageReceived     Stage = "received"
	StageValidated    Stage = "validated"
	StagePreprocessed Stage = "preprocessed"
	StageExtracted    Stage = "extracted"
	StageMerged       Stage = "merged"
	StageStructured   Stage = "structured"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// 降级分支标识，记录哪一路OCR失败后被替换为空文本
const (
	BranchOriginal = "original"
	BranchCleaned  = "cleaned"
)

// allowedExtensions 允许进入流水线的文件扩展名(小写、无点)
var allowedExtensions = map[string]bool{
	"pdf":  true,
	"jpg":  true,
	"jpeg": true,
	"png":  true,
}

// IngestResult 一次摄取的产出
type IngestResult struct {
	// Resume 结构化简历，流水线成功时必非nil
	Resume *types.StructuredResume
	// DegradedBranches 以空文本降级的OCR分支，为空表示全程无降级
	DegradedBranches []string
	// RunID 本次运行的唯一标识，同时出现在错误与日志中
	RunID string
}

// CVPipeline 简历摄取流水线
// 串联 预处理→双路OCR→合并→结构化 四个组件。容错边界：
// OCR分支失败以空文本降级继续；预处理或结构化失败则整次摄取失败。
type CVPipeline struct {
	cleaner    DocumentCleaner
	extractor  OCRExtractor
	merger     OCRMerger
	structurer CVStructurer

	tracer trace.Tracer
	logger *log.Logger
}

// NewCVPipeline 创建简历摄取流水线
func NewCVPipeline(
	cleaner DocumentCleaner,
	extractor OCRExtractor,
	merger OCRMerger,
	structurer CVStructurer,
	options ...PipelineOption,
) (*CVPipeline, error) {
	if cleaner == nil || extractor == nil || merger == nil || structurer == nil {
		return nil, fmt.Errorf("流水线组件不能为空")
	}

	p := &CVPipeline{
		cleaner:    cleaner,
		extractor:  extractor,
		merger:     merger,
		structurer: structurer,
		tracer:     noop.NewTracerProvider().Tracer("cv-pipeline"),
		logger:     log.New(os.Stderr, "[摄取流水线] ", log.LstdFlags),
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// Ingest 执行一次完整的简历摄取
// ownerID 仅作为产出图片的归属标记透传，不参与任何处理决策
func (p *CVPipeline) Ingest(ctx context.Context, doc *types.SourceDocument, ownerID string) (*IngestResult, error) {
	runID := uuid.New().String()
	startTime := time.Now()

	ctx, span := p.tracer.Start(ctx, "pipeline.ingest",
		trace.WithAttributes(
			attribute.String("ingest.run_id", runID),
			attribute.String("ingest.file_name", tracing.SafeAttributeValue("file_name", doc.FileName, tracing.DefaultMaxLength)),
			attribute.String("ingest.ext", doc.Ext),
		))
	defer span.End()

	p.logStage(runID, StageReceived, "文件: %s (%.2f KB)", doc.FileName, float64(len(doc.Data))/1024)

	// 格式校验在任何远程调用之前完成
	if !allowedExtensions[doc.Ext] {
		err := NewFormatError(runID, fmt.Sprintf("扩展名 %q 不在允许列表内", doc.Ext))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		p.logStage(runID, StageFailed, "%v", err)
		return nil, err
	}
	p.logStage(runID, StageValidated, "格式 %s 通过校验", doc.Ext)

	result := &IngestResult{RunID: runID}

	var combined string
	var image *types.EmbeddedImage
	if doc.Ext == "pdf" {
		var err error
		combined, image, err = p.runPDFBranches(ctx, doc, ownerID, result)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeInternal)
			p.logStage(runID, StageFailed, "%v", err)
			return nil, err
		}
	} else {
		combined = p.runImageBranch(ctx, doc, result)
	}

	resume, err := p.structure(ctx, runID, combined)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		p.logStage(runID, StageFailed, "%v", err)
		return nil, err
	}
	resume.Image = image
	result.Resume = resume

	span.SetAttributes(
		attribute.Int("ingest.degraded_branches", len(result.DegradedBranches)),
		attribute.Bool("ingest.has_image", image != nil),
	)
	p.logStage(runID, StageDone, "摄取完成 (用时 %.2f秒, 降级分支 %d)",
		time.Since(startTime).Seconds(), len(result.DegradedBranches))
	return result, nil
}

// runPDFBranches 执行PDF的预处理与双路OCR，返回合并后的文本与首页图片
// 两路OCR各自独立降级；预处理失败直接终止，因为清理版PDF是本流水线的核心产出路径
func (p *CVPipeline) runPDFBranches(ctx context.Context, doc *types.SourceDocument, ownerID string, result *IngestResult) (string, *types.EmbeddedImage, error) {
	runID := result.RunID

	cleanCtx, cleanSpan := p.tracer.Start(ctx, "pipeline.preprocess")
	cleanedPDF, err := p.cleaner.Clean(cleanCtx, doc.Data)
	if err != nil {
		tracing.RecordError(cleanSpan, err, tracing.ErrorTypeInternal)
		cleanSpan.End()
		return "", nil, NewPreprocessError(runID, err.Error())
	}
	cleanSpan.SetAttributes(attribute.Int("preprocess.output_bytes", len(cleanedPDF)))
	cleanSpan.End()
	p.logStage(runID, StagePreprocessed, "清理版PDF生成 (%.2f KB)", float64(len(cleanedPDF))/1024)

	ocrCtx, ocrSpan := p.tracer.Start(ctx, "pipeline.extract")
	originalText, image, err := p.extractor.ExtractTextAndFirstImageFromPDF(ocrCtx, doc.Data, doc.FileName, ownerID)
	if err != nil {
		// OCR是远程依赖，单路失败不应废掉整次摄取
		p.degradeBranch(ocrSpan, result, BranchOriginal, err)
		originalText, image = "", nil
	}

	cleanedText, err := p.extractor.ExtractTextFromPDF(ocrCtx, cleanedPDF, "cleaned_"+doc.FileName)
	if err != nil {
		p.degradeBranch(ocrSpan, result, BranchCleaned, err)
		cleanedText = ""
	}
	ocrSpan.SetAttributes(
		attribute.Int("ocr.original_chars", len(originalText)),
		attribute.Int("ocr.cleaned_chars", len(cleanedText)),
	)
	ocrSpan.End()
	p.logStage(runID, StageExtracted, "原始 %d 字符, 清理版 %d 字符", len(originalText), len(cleanedText))

	combined := p.merger.Merge(originalText, cleanedText)
	p.logStage(runID, StageMerged, "合并文本 %d 字符", len(combined))
	return combined, image, nil
}

// runImageBranch 执行单张图片的OCR
// 图片没有清理分支，OCR文本直接作为结构化输入；失败同样降级为空文本
func (p *CVPipeline) runImageBranch(ctx context.Context, doc *types.SourceDocument, result *IngestResult) string {
	runID := result.RunID

	ocrCtx, ocrSpan := p.tracer.Start(ctx, "pipeline.extract")
	defer ocrSpan.End()

	text, err := p.extractor.ExtractTextFromImage(ocrCtx, doc.Data)
	if err != nil {
		p.degradeBranch(ocrSpan, result, BranchOriginal, err)
		return ""
	}
	ocrSpan.SetAttributes(attribute.Int("ocr.original_chars", len(text)))
	p.logStage(runID, StageExtracted, "图片OCR %d 字符", len(text))
	return text
}

// degradeBranch 把一路OCR失败记录为降级：套上错误分类，写span与日志，不上抛
func (p *CVPipeline) degradeBranch(span trace.Span, result *IngestResult, branch string, err error) {
	ocrErr := NewOCRError(result.RunID, err.Error())
	tracing.RecordErrorWithInfo(span, ocrErr, tracing.ErrorTypeExternal,
		attribute.String("ocr.branch", branch))
	p.logger.Printf("[WARN] %v，分支 %s 降级为空文本", ocrErr, branch)
	result.DegradedBranches = append(result.DegradedBranches, branch)
}

// structure 调用LLM结构化器
func (p *CVPipeline) structure(ctx context.Context, runID string, combined string) (*types.StructuredResume, error) {
	llmCtx, llmSpan := p.tracer.Start(ctx, "pipeline.structure",
		trace.WithAttributes(
			attribute.Int("structure.input_chars", len(combined)),
			attribute.String("structure.input_preview", tracing.SafeResumeContent(combined)),
		))
	defer llmSpan.End()

	resume, err := p.structurer.Structure(llmCtx, combined)
	if err != nil {
		tracing.RecordError(llmSpan, err, tracing.ErrorTypeExternal)
		return nil, NewStructuringError(runID, err.Error())
	}
	p.logStage(runID, StageStructured, "结构化完成: %s %s",
		tracing.MaskPII(resume.FirstName), tracing.MaskPII(resume.LastName))
	return resume, nil
}

func (p *CVPipeline) logStage(runID string, stage Stage, format string, args ...interface{}) {
	p.logger.Printf("运行 %s [%s] %s", runID, stage, fmt.Sprintf(format, args...))
}
