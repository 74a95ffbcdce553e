package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ma-crossover-bot-go/internal/feed"
	"ma-crossover-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// KlineFetcher 抽象了分页拉取K线的接口，便于测试时替换
type KlineFetcher interface {
	FetchKlines(ctx context.Context, symbol, interval string, startMs int64, limit int) ([]*binance.Kline, error)
}

type binanceFetcher struct {
	client *binance.Client
}

func (f binanceFetcher) FetchKlines(ctx context.Context, symbol, interval string, startMs int64, limit int) ([]*binance.Kline, error) {
	return f.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(startMs).
		Limit(limit).
		Do(ctx)
}

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	fetcher  KlineFetcher
	logger   *zap.Logger
	pause    time.Duration
	pageSize int
}

// NewKlineDownloader 创建一个新的下载器实例
func NewKlineDownloader(logger *zap.Logger) *KlineDownloader {
	// 公共接口不需要API Key
	return NewKlineDownloaderWithFetcher(binanceFetcher{client: binance.NewClient("", "")}, logger)
}

// NewKlineDownloaderWithFetcher 使用自定义数据源创建下载器
func NewKlineDownloaderWithFetcher(f KlineFetcher, logger *zap.Logger) *KlineDownloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KlineDownloader{
		fetcher:  f,
		logger:   logger.Named("downloader"),
		pause:    200 * time.Millisecond, // 避免过于频繁的请求
		pageSize: 1000,                   // 币安单次请求最多1000条
	}
}

// FetchBars 拉取 [startTime, endTime) 内的K线并按顺序编号
func (d *KlineDownloader) FetchBars(ctx context.Context, symbol, interval string, startTime, endTime time.Time) ([]models.Bar, error) {
	var bars []models.Bar
	for t := startTime; t.Before(endTime); {
		klines, err := d.fetcher.FetchKlines(ctx, symbol, interval, t.UnixMilli(), d.pageSize)
		if err != nil {
			return nil, fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			open := time.UnixMilli(k.OpenTime).UTC()
			if !open.Before(endTime) {
				break
			}
			bar, err := klineToBar(k)
			if err != nil {
				d.logger.Warn("跳过无法解析的K线", zap.Int64("open_time", k.OpenTime), zap.Error(err))
				continue
			}
			bar.Index = len(bars)
			bars = append(bars, bar)
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Info("已下载数据", zap.String("symbol", symbol), zap.Time("until", t), zap.Int("bars", len(bars)))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.pause):
		}
	}
	return bars, nil
}

// DownloadKlines 下载K线并保存到CSV文件。
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, interval, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("从缓存加载数据", zap.String("file", filePath))
		return nil
	}

	d.logger.Info("开始下载K线数据",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.String("start", startTime.Format("2006-01-02")),
		zap.String("end", endTime.Format("2006-01-02")))

	bars, err := d.FetchBars(ctx, symbol, interval, startTime, endTime)
	if err != nil {
		return err
	}
	if err := WriteCSV(filePath, bars); err != nil {
		return err
	}
	d.logger.Info("成功下载K线数据", zap.String("file", filePath), zap.Int("bars", len(bars)))
	return nil
}

// WriteCSV 以 open_time,open,high,low,close 格式写出K线
func WriteCSV(filePath string, bars []models.Bar) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"open_time", "open", "high", "low", "close"}); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}
	for _, b := range bars {
		record := []string{
			strconv.FormatInt(b.Time.UnixMilli(), 10),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("写入CSV记录失败: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func klineToBar(k *binance.Kline) (models.Bar, error) {
	var vals [4]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close} {
		v, err := feed.ParsePrice(s)
		if err != nil {
			return models.Bar{}, err
		}
		vals[i] = v
	}
	return models.Bar{
		Time:  time.UnixMilli(k.OpenTime).UTC(),
		Open:  vals[0],
		High:  vals[1],
		Low:   vals[2],
		Close: vals[3],
	}, nil
}
