package logger

import (
	"os"
	"strings"

	"ma-crossover-bot-go/internal/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var baseLogger *zap.Logger

// InitLogger 根据配置初始化全局 zap 日志记录器
func InitLogger(cfg models.LogConfig) {
	// 配置日志级别，无法解析时默认为 Info
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	baseLogger = zap.New(zapcore.NewTee(buildCores(cfg, level)...), zap.AddCaller())
}

// buildCores 按输出模式创建 core；模式无效时退回控制台输出
func buildCores(cfg models.LogConfig, level zap.AtomicLevel) []zapcore.Core {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	var cores []zapcore.Core
	output := strings.ToLower(cfg.Output)

	if (output == "file" || output == "both") && cfg.File != "" {
		// 使用 lumberjack 进行日志切割
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}
	if output == "console" || output == "both" || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}
	return cores
}

// L 返回全局的结构化 logger
func L() *zap.Logger {
	if baseLogger == nil {
		// 未初始化时提供一个默认的应急 logger
		l, _ := zap.NewDevelopment()
		return l
	}
	return baseLogger
}

// S 返回全局的 sugared logger
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// ZapSink 把策略的文本输出 (开平仓记录、统计摘要) 写入 zap
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink 创建一个写入给定 logger 的 sink，logger 为 nil 时使用全局 logger
func NewZapSink(l *zap.Logger) *ZapSink {
	if l == nil {
		l = L()
	}
	return &ZapSink{logger: l.Named("strategy").WithOptions(zap.AddCallerSkip(1))}
}

// AddMessage 逐行写入，保持多行文本在控制台中的可读性
func (s *ZapSink) AddMessage(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		s.logger.Info(line)
	}
}
