package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrUnsupportedFormat = errors.New("不支持的文件格式")
	ErrPreprocessFailed  = errors.New("PDF预处理失败")
	ErrOCRServiceFailed  = errors.New("OCR服务调用失败")
	ErrStructuringFailed = errors.New("简历结构化失败")
)

// IngestError 包含详细上下文的摄取错误
// 四类基础错误中只有OCR失败会被流水线就地降级吸收，其余原样上抛
type IngestError struct {
	RunID   string
	Op      string
	BaseErr error
	Detail  string
}

func (e *IngestError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 运行ID:%s): %s", e.BaseErr, e.Op, e.RunID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 运行ID:%s)", e.BaseErr, e.Op, e.RunID)
}

func (e *IngestError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *IngestError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数

func NewFormatError(runID, detail string) error {
	return &IngestError{
		RunID:   runID,
		Op:      "validate",
		BaseErr: ErrUnsupportedFormat,
		Detail:  detail,
	}
}

func NewPreprocessError(runID, detail string) error {
	return &IngestError{
		RunID:   runID,
		Op:      "preprocess",
		BaseErr: ErrPreprocessFailed,
		Detail:  detail,
	}
}

func NewOCRError(runID, detail string) error {
	return &IngestError{
		RunID:   runID,
		Op:      "extract",
		BaseErr: ErrOCRServiceFailed,
		Detail:  detail,
	}
}

func NewStructuringError(runID, detail string) error {
	return &IngestError{
		RunID:   runID,
		Op:      "structure",
		BaseErr: ErrStructuringFailed,
		Detail:  detail,
	}
}
