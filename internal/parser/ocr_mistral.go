package parser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"cv-ingest-go/internal/types"
)

const (
	// Mistral API根地址
	defaultMistralAPIBaseURL = "https://api.mistral.ai"
	// OCR专用模型
	defaultMistralOCRModel = "mistral-ocr-latest"
	// 单次OCR请求的HTTP超时，防止上游挂起占住工作协程
	defaultOCRHTTPTimeout = 60 * time.Second
	// 签名URL有效期(分钟)，文档只被立即消费一次，取最短有效期
	signedURLExpiry = 1
)

// MistralOCRExtractor 调用Mistral OCR服务提取文档文本
// PDF路径走"上传→签名URL→OCR处理"三步，图片路径直接以base64数据URL提交。
// 本层不做重试：提取失败立即上抛，由调用方决定是否以空文本降级继续。
type MistralOCRExtractor struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *log.Logger
}

// OCRExtractorOption MistralOCRExtractor的配置选项
type OCRExtractorOption func(*MistralOCRExtractor)

// WithOCRLogger 设置自定义日志记录器
func WithOCRLogger(logger *log.Logger) OCRExtractorOption {
	return func(e *MistralOCRExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithOCRBaseURL 覆盖API根地址，主要用于测试
func WithOCRBaseURL(baseURL string) OCRExtractorOption {
	return func(e *MistralOCRExtractor) {
		if baseURL != "" {
			e.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithOCRModel 覆盖OCR模型名
func WithOCRModel(model string) OCRExtractorOption {
	return func(e *MistralOCRExtractor) {
		if model != "" {
			e.model = model
		}
	}
}

// WithOCRTimeout 设置HTTP超时
func WithOCRTimeout(timeout time.Duration) OCRExtractorOption {
	return func(e *MistralOCRExtractor) {
		if timeout > 0 {
			e.httpClient.Timeout = timeout
		}
	}
}

// NewMistralOCRExtractor 创建Mistral OCR提取器
func NewMistralOCRExtractor(apiKey string, options ...OCRExtractorOption) (*MistralOCRExtractor, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}

	e := &MistralOCRExtractor{
		apiKey:     apiKey,
		baseURL:    defaultMistralAPIBaseURL,
		model:      defaultMistralOCRModel,
		httpClient: &http.Client{Timeout: defaultOCRHTTPTimeout},
		logger:     log.New(os.Stderr, "[OCR提取器] ", log.LstdFlags),
	}
	for _, opt := range options {
		opt(e)
	}
	return e, nil
}

// --- Mistral OCR 协议结构 ---

type ocrUploadResponse struct {
	ID string `json:"id"`
}

type ocrSignedURLResponse struct {
	URL string `json:"url"`
}

type ocrDocument struct {
	Type        string `json:"type"`                   // "document_url" 或 "image_url"
	DocumentURL string `json:"document_url,omitempty"` // PDF签名URL
	ImageURL    string `json:"image_url,omitempty"`    // base64数据URL
}

type ocrRequest struct {
	Model              string      `json:"model"`
	Document           ocrDocument `json:"document"`
	IncludeImageBase64 bool        `json:"include_image_base64"`
}

type ocrImage struct {
	ID           string `json:"id"`
	TopLeftX     int    `json:"top_left_x"`
	TopLeftY     int    `json:"top_left_y"`
	BottomRightX int    `json:"bottom_right_x"`
	BottomRightY int    `json:"bottom_right_y"`
	ImageBase64  string `json:"image_base64"`
}

type ocrPage struct {
	Index    int        `json:"index"`
	Markdown string     `json:"markdown"`
	Images   []ocrImage `json:"images"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

// ExtractTextFromPDF 提取PDF的全文Markdown
// 各页文本按页序以空行拼接；OCR准确率取决于远端服务，本层只保证忠实透传
func (e *MistralOCRExtractor) ExtractTextFromPDF(ctx context.Context, pdfData []byte, fileName string) (string, error) {
	resp, err := e.processPDF(ctx, pdfData, fileName)
	if err != nil {
		return "", err
	}
	return joinPageMarkdown(resp.Pages), nil
}

// ExtractTextAndFirstImageFromPDF 提取PDF全文，并额外返回第一页的第一张内嵌图片
// 每份简历最多保留一张图片（通常是头像），第2页及以后的图片一律忽略
func (e *MistralOCRExtractor) ExtractTextAndFirstImageFromPDF(ctx context.Context, pdfData []byte, fileName string, ownerID string) (string, *types.EmbeddedImage, error) {
	resp, err := e.processPDF(ctx, pdfData, fileName)
	if err != nil {
		return "", nil, err
	}

	var firstImage *types.EmbeddedImage
	for i, page := range resp.Pages {
		if i > 0 {
			break
		}
		if len(page.Images) == 0 {
			continue
		}
		img := page.Images[0]
		firstImage = &types.EmbeddedImage{
			ID:           img.ID,
			OwnerID:      ownerID,
			ImageBase64:  img.ImageBase64,
			TopLeftX:     img.TopLeftX,
			TopLeftY:     img.TopLeftY,
			BottomRightX: img.BottomRightX,
			BottomRightY: img.BottomRightY,
			PageIndex:    page.Index,
		}
	}

	return joinPageMarkdown(resp.Pages), firstImage, nil
}

// ExtractTextFromImage 提取单张图片的Markdown文本
// 图片不经过文件上传，直接以base64数据URL提交
func (e *MistralOCRExtractor) ExtractTextFromImage(ctx context.Context, imageData []byte) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageData)

	resp, err := e.process(ctx, ocrRequest{
		Model:              e.model,
		Document:           ocrDocument{Type: "image_url", ImageURL: dataURL},
		IncludeImageBase64: false,
	})
	if err != nil {
		return "", err
	}
	return joinPageMarkdown(resp.Pages), nil
}

// processPDF 完成PDF的注册与OCR处理
// 上传和签名URL是提取器的内部管道，对调用方不可见
func (e *MistralOCRExtractor) processPDF(ctx context.Context, pdfData []byte, fileName string) (*ocrResponse, error) {
	fileID, err := e.uploadFile(ctx, fileName, pdfData)
	if err != nil {
		return nil, fmt.Errorf("上传PDF失败: %w", err)
	}

	signedURL, err := e.getSignedURL(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("获取签名URL失败: %w", err)
	}

	return e.process(ctx, ocrRequest{
		Model:              e.model,
		Document:           ocrDocument{Type: "document_url", DocumentURL: signedURL},
		IncludeImageBase64: true,
	})
}

// uploadFile 以multipart表单上传文件，purpose固定为ocr
func (e *MistralOCRExtractor) uploadFile(ctx context.Context, fileName string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("purpose", "ocr"); err != nil {
		return "", fmt.Errorf("写入purpose字段失败: %w", err)
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("创建文件字段失败: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("写入文件内容失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("关闭multipart写入器失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/files", &body)
	if err != nil {
		return "", fmt.Errorf("创建上传请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var uploadResp ocrUploadResponse
	if err := e.doJSON(req, &uploadResp); err != nil {
		return "", err
	}
	if uploadResp.ID == "" {
		return "", fmt.Errorf("上传响应缺少文件ID")
	}

	e.logger.Printf("文件已注册: %s (%.2f KB)", uploadResp.ID, float64(len(data))/1024)
	return uploadResp.ID, nil
}

// getSignedURL 换取已上传文件的签名访问URL
func (e *MistralOCRExtractor) getSignedURL(ctx context.Context, fileID string) (string, error) {
	url := fmt.Sprintf("%s/v1/files/%s/url?expiry=%d", e.baseURL, fileID, signedURLExpiry)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("创建签名URL请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Accept", "application/json")

	var urlResp ocrSignedURLResponse
	if err := e.doJSON(req, &urlResp); err != nil {
		return "", err
	}
	if urlResp.URL == "" {
		return "", fmt.Errorf("签名URL响应为空")
	}
	return urlResp.URL, nil
}

// process 提交OCR处理请求
func (e *MistralOCRExtractor) process(ctx context.Context, ocrReq ocrRequest) (*ocrResponse, error) {
	payload, err := json.Marshal(ocrReq)
	if err != nil {
		return nil, fmt.Errorf("序列化OCR请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/ocr", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建OCR请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	var resp ocrResponse
	if err := e.doJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("OCR处理失败: %w", err)
	}

	e.logger.Printf("OCR处理完成: %d 页 (用时 %.2f秒)", len(resp.Pages), time.Since(startTime).Seconds())
	return &resp, nil
}

// doJSON 执行HTTP请求并把JSON响应解码到out
func (e *MistralOCRExtractor) doJSON(req *http.Request, out interface{}) error {
	httpResp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("API 请求失败，状态 %s: %.300s", httpResp.Status, string(bodyBytes))
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("反序列化响应失败: %w。响应体: %.300s", err, string(bodyBytes))
	}
	return nil
}

// joinPageMarkdown 按页序以空行拼接各页Markdown
func joinPageMarkdown(pages []ocrPage) string {
	parts := make([]string, 0, len(pages))
	for _, page := range pages {
		parts = append(parts, page.Markdown)
	}
	return strings.Join(parts, "\n\n")
}
