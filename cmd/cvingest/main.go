package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"cv-ingest-go/internal/agent"
	"cv-ingest-go/internal/config"
	"cv-ingest-go/internal/logger"
	"cv-ingest-go/internal/parser"
	"cv-ingest-go/internal/processor"
	"cv-ingest-go/internal/tracing"
	"cv-ingest-go/internal/types"
)

// 命令行参数
var (
	configPath string
	filePath   string
	ownerID    string
	outputPath string
	prettyJSON bool
)

func main() {
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径，空则在默认位置查找")
	pflag.StringVarP(&filePath, "file", "f", "", "待摄取的简历文件 (pdf/jpg/jpeg/png)")
	pflag.StringVar(&ownerID, "owner", "", "图片归属标记，写入产出中内嵌图片的owner_id")
	pflag.StringVarP(&outputPath, "output", "o", "", "结构化结果输出文件，空则写到标准输出")
	pflag.BoolVar(&prettyJSON, "pretty", false, "缩进输出JSON")
	pflag.Parse()

	if filePath == "" {
		fmt.Fprintln(os.Stderr, "错误: 必须通过 --file 指定简历文件")
		pflag.Usage()
		os.Exit(1)
	}

	// 1. 加载配置文件
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置文件失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志系统
	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})

	if cfg.Mistral.APIKey == "" {
		logger.Fatal().Msg("未配置Mistral API密钥 (config.mistral.api_key 或环境变量 MISTRAL_API_KEY)")
	}

	// 3. 初始化链路追踪
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "cv-ingest", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化链路追踪失败")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("关闭链路追踪失败")
		}
	}()

	// 4. 组装流水线
	pipeline, err := buildPipeline(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("组装摄取流水线失败")
	}

	// 5. 读取文件并执行摄取
	data, err := os.ReadFile(filePath)
	if err != nil {
		logger.Fatal().Err(err).Str("file", filePath).Msg("读取简历文件失败")
	}
	doc := types.NewSourceDocument(filePath, data)

	result, err := pipeline.Ingest(ctx, &doc, ownerID)
	if err != nil {
		logger.Fatal().Err(err).Str("file", filePath).Msg("摄取失败")
	}
	logger.Info().
		Str("run_id", result.RunID).
		Strs("degraded_branches", result.DegradedBranches).
		Msg("摄取完成")

	// 6. 输出结构化结果
	if err := emitResult(result, outputPath, prettyJSON); err != nil {
		logger.Fatal().Err(err).Msg("输出结果失败")
	}
}

// buildPipeline 按配置组装流水线的四个组件
func buildPipeline(cfg *config.Config) (*processor.CVPipeline, error) {
	stdLogger := log.New(os.Stderr, "", log.LstdFlags)

	cleaner := parser.NewPDFCleaner(
		parser.WithCleanerScale(cfg.Cleaner.Scale),
		parser.WithThresholdParams(cfg.Cleaner.BlockSize, cfg.Cleaner.Offset),
	)

	extractor, err := parser.NewMistralOCRExtractor(cfg.Mistral.APIKey,
		parser.WithOCRBaseURL(cfg.Mistral.APIURL),
		parser.WithOCRModel(cfg.Mistral.OCRModel),
		parser.WithOCRTimeout(cfg.MistralTimeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("创建OCR提取器失败: %w", err)
	}

	chatModel, err := agent.NewMistralChatModel(cfg.Mistral.APIKey, cfg.Mistral.ChatModel, "",
		agent.WithJSONMode(true),
	)
	if err != nil {
		return nil, fmt.Errorf("创建对话模型失败: %w", err)
	}

	structurer := parser.NewLLMCVStructurer(chatModel, stdLogger,
		parser.WithStructurerRetryPolicy(cfg.Structurer.MaxRetries, cfg.StructurerBaseDelay()),
		parser.WithStructurerCallTimeout(cfg.StructurerTimeout()),
	)

	return processor.NewCVPipeline(
		cleaner,
		extractor,
		parser.NewSectionMerger(),
		structurer,
		processor.WithPipelineTracer(tracing.Tracer("cv-pipeline")),
	)
}

// emitResult 把结构化简历序列化为JSON写到目标位置
func emitResult(result *processor.IngestResult, outputPath string, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(result.Resume, "", "  ")
	} else {
		data, err = json.Marshal(result.Resume)
	}
	if err != nil {
		return fmt.Errorf("序列化结构化简历失败: %w", err)
	}
	data = append(data, '\n')

	if outputPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outputPath, data, 0644)
}
