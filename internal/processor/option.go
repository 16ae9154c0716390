package processor

import (
	"log"

	"go.opentelemetry.io/otel/trace"
)

// PipelineOption CVPipeline的配置选项
type PipelineOption func(*CVPipeline)

// WithPipelineLogger 设置自定义日志记录器
func WithPipelineLogger(logger *log.Logger) PipelineOption {
	return func(p *CVPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPipelineTracer 设置OpenTelemetry追踪器
// 不设置时各阶段仍然执行，只是不产生span
func WithPipelineTracer(tracer trace.Tracer) PipelineOption {
	return func(p *CVPipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}
