package parser

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"log"
	"os"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const (
	// defaultCleanScale 光栅化的线性放大倍数，2倍分辨率保留细小文字笔画
	defaultCleanScale = 2.0
	// defaultBlockSize 自适应阈值的邻域边长，与原型的cv2调用参数一致
	defaultBlockSize = 11
	// defaultThresholdOffset 自适应阈值的常量偏移
	defaultThresholdOffset = 2.0
)

// PDFCleaner 把彩色背景的PDF转换为黑白版本
// 每页先光栅化再二值化，重新装配为整页图片PDF，页面尺寸保持不变。
// 部分OCR模型会把彩色底纹上的文字当作水印丢弃，黑白渲染提供同一内容的第二种读取途径。
type PDFCleaner struct {
	scale     float64 // 光栅化放大倍数
	blockSize int     // 自适应阈值邻域边长，必须为奇数
	offset    float64 // 阈值常量偏移
	logger    *log.Logger
}

// PDFCleanerOption PDFCleaner的配置选项
type PDFCleanerOption func(*PDFCleaner)

// WithCleanerLogger 设置自定义日志记录器
func WithCleanerLogger(logger *log.Logger) PDFCleanerOption {
	return func(c *PDFCleaner) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCleanerScale 设置光栅化放大倍数
func WithCleanerScale(scale float64) PDFCleanerOption {
	return func(c *PDFCleaner) {
		if scale > 0 {
			c.scale = scale
		}
	}
}

// WithThresholdParams 设置自适应阈值参数
func WithThresholdParams(blockSize int, offset float64) PDFCleanerOption {
	return func(c *PDFCleaner) {
		if blockSize >= 3 {
			c.blockSize = blockSize
		}
		c.offset = offset
	}
}

// NewPDFCleaner 创建PDF背景清理器
func NewPDFCleaner(options ...PDFCleanerOption) *PDFCleaner {
	c := &PDFCleaner{
		scale:     defaultCleanScale,
		blockSize: defaultBlockSize,
		offset:    defaultThresholdOffset,
		logger:    log.New(os.Stderr, "[PDF清理器] ", log.LstdFlags),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Clean 生成去除彩色背景的黑白PDF
// 输入无法作为PDF解析时返回错误；不修改输入字节
func (c *PDFCleaner) Clean(ctx context.Context, pdfData []byte) ([]byte, error) {
	startTime := time.Now()

	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("解析PDF失败: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF不包含任何页面")
	}
	c.logger.Printf("开始清理PDF背景: %d 页", pageCount)

	dpi := 72.0 * c.scale
	pagePDFs := make([]io.ReadSeeker, 0, pageCount)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("清理过程被取消: %w", ctx.Err())
		default:
		}

		img, err := doc.ImageDPI(pageNum, dpi)
		if err != nil {
			return nil, fmt.Errorf("光栅化第 %d 页失败: %w", pageNum+1, err)
		}

		gray := toGray(img)
		binary := adaptiveThreshold(gray, c.blockSize, c.offset)

		var pngBuf bytes.Buffer
		if err := png.Encode(&pngBuf, binary); err != nil {
			return nil, fmt.Errorf("编码第 %d 页PNG失败: %w", pageNum+1, err)
		}

		// 以144 DPI渲染时，1像素=0.5点，换算回原始页面尺寸
		widthPt := float64(binary.Bounds().Dx()) * 72.0 / dpi
		heightPt := float64(binary.Bounds().Dy()) * 72.0 / dpi

		imp, err := api.Import(fmt.Sprintf("dim:%.2f %.2f, pos:full", widthPt, heightPt), pdftypes.POINTS)
		if err != nil {
			return nil, fmt.Errorf("构建第 %d 页导入配置失败: %w", pageNum+1, err)
		}

		var pageBuf bytes.Buffer
		if err := api.ImportImages(nil, &pageBuf, []io.Reader{&pngBuf}, imp, conf); err != nil {
			return nil, fmt.Errorf("装配第 %d 页失败: %w", pageNum+1, err)
		}
		pagePDFs = append(pagePDFs, bytes.NewReader(pageBuf.Bytes()))
	}

	var out bytes.Buffer
	if len(pagePDFs) == 1 {
		if _, err := io.Copy(&out, pagePDFs[0]); err != nil {
			return nil, fmt.Errorf("写出单页PDF失败: %w", err)
		}
	} else {
		if err := api.MergeRaw(pagePDFs, &out, false, conf); err != nil {
			return nil, fmt.Errorf("合并清理后的页面失败: %w", err)
		}
	}

	c.logger.Printf("PDF背景清理完成: %d 页, 输出 %.2f KB (用时 %.2f秒)",
		pageCount, float64(out.Len())/1024, time.Since(startTime).Seconds())
	return out.Bytes(), nil
}
