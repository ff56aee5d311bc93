package app

import (
	"context"
	"fmt"
	"time"

	"transcode_pipeline_service/internal/orchestrator/domain"
	"transcode_pipeline_service/internal/orchestrator/repository"
	"transcode_pipeline_service/pkg/logger"
	"transcode_pipeline_service/pkg/retry"

	"go.uber.org/zap"
)

// Processor 定時掃描 received job，驅動 received -> processing -> completed
// 編碼失敗是該 job 的終態（failed），不自動重跑；重試只包引擎呼叫的暫時性錯誤。
type Processor struct {
	jobRepo      repository.JobRepo
	engine       domain.EncodingEngine
	engineRetry  retry.Policy
	pollInterval time.Duration
}

// NewProcessor 建構 Processor 實例
func NewProcessor(jobRepo repository.JobRepo, engine domain.EncodingEngine, pollInterval time.Duration, engineRetryCount int) *Processor {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if engineRetryCount <= 0 {
		engineRetryCount = 3
	}
	return &Processor{
		jobRepo:      jobRepo,
		engine:       engine,
		engineRetry:  retry.NewPolicy(engineRetryCount),
		pollInterval: pollInterval,
	}
}

// Run 啟動輪詢迴圈，ctx 取消後結束
func (p *Processor) Run(ctx context.Context) {
	logger.Log.Info("Processor 已啟動", zap.Duration("poll_interval", p.pollInterval))

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.ProcessPending(ctx); err != nil {
				// 掃描層的錯誤記下來，下一輪再試
				logger.Log.Errorf("處理 received job 掃描失敗:", err)
			}
		case <-ctx.Done():
			logger.Log.Info("Processor 收到停止訊號")
			return
		}
	}
}

// ProcessPending 撿起所有 received job 並各自獨立處理
func (p *Processor) ProcessPending(ctx context.Context) error {
	jobs, err := p.jobRepo.FindByStatus(domain.JobReceived)
	if err != nil {
		return fmt.Errorf("查詢 received job 失敗: %w", err)
	}

	for i := range jobs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// 單一 job 失敗不中斷整批
		if err := p.processJob(ctx, &jobs[i]); err != nil {
			logger.Log.Errorf(fmt.Sprintf("jobID[%s] 處理失敗:", jobs[i].ID), err)
		}
	}
	return nil
}

// processJob 驅動單一 job 走完編碼流程
func (p *Processor) processJob(ctx context.Context, job *domain.TranscodingJob) error {
	// 引擎層冪等檢查：引擎已在處理該影片就跳過，留在 received 給原 worker
	active, err := p.engine.IsJobActive(ctx, job.VideoID)
	if err != nil {
		return fmt.Errorf("查詢引擎狀態失敗: %w", err)
	}
	if active {
		logger.Log.Info("engine already active for video, skip",
			zap.String("job_id", job.ID),
			zap.String("video_id", job.VideoID),
		)
		return nil
	}

	if err := job.MarkProcessing(); err != nil {
		return err
	}
	if err := p.jobRepo.Update(job); err != nil {
		return fmt.Errorf("更新 job 為 processing 失敗: %w", err)
	}

	logger.Log.Info("job picked up",
		zap.String("job_id", job.ID),
		zap.String("video_id", job.VideoID),
		zap.Int("retry_count", job.RetryCount),
	)

	// 引擎呼叫包退避重試，只擋暫時性錯誤（例如 storage 寫入抖動）
	var result *domain.RenditionSet
	err = p.engineRetry.Do(ctx, func(ctx context.Context) error {
		var perr error
		result, perr = p.engine.Process(ctx, job)
		return perr
	})
	if err != nil {
		// 編碼失敗對 job 是終態，對 worker 不是
		if merr := job.MarkFailed(fmt.Sprintf("encode failed: %v", err)); merr != nil {
			return merr
		}
		if uerr := p.jobRepo.UpdateStatus(job.ID, domain.JobFailed, job.ErrorMessage); uerr != nil {
			return fmt.Errorf("更新 job 為 failed 失敗: %w", uerr)
		}
		logger.Log.Error("job failed",
			zap.String("job_id", job.ID),
			zap.String("video_id", job.VideoID),
			zap.Error(err),
		)
		return nil
	}

	now := time.Now()
	job.Renditions = result.Renditions
	for i := range job.Renditions {
		job.Renditions[i].JobID = job.ID
	}
	if err := job.MarkCompleted(result.ManifestPath, now); err != nil {
		return err
	}
	if err := p.jobRepo.Update(job); err != nil {
		return fmt.Errorf("更新 job 為 completed 失敗: %w", err)
	}

	logger.Log.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("video_id", job.VideoID),
		zap.Int("renditions", len(job.Renditions)),
	)
	return nil
}
