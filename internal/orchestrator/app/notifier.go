package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"transcode_pipeline_service/internal/orchestrator/domain"
	"transcode_pipeline_service/internal/orchestrator/repository"
	"transcode_pipeline_service/pkg/database"
	"transcode_pipeline_service/pkg/logger"
	"transcode_pipeline_service/pkg/retry"

	"go.uber.org/zap"
)

// Notifier 定時掃描 completed job，發布完成事件後標記 notified
// 累計發布次數超過 maxAttempts 轉 failed，並盡力發一則診斷事件。
type Notifier struct {
	jobRepo      repository.JobRepo
	publisher    database.EventPublisher
	publishRetry retry.Policy
	pollInterval time.Duration
	settleTime   time.Duration
	maxAttempts  int

	now func() time.Time // 測試用
}

// NewNotifier 建構 Notifier 實例
func NewNotifier(jobRepo repository.JobRepo, publisher database.EventPublisher,
	pollInterval, settleTime time.Duration, publishRetryCount, maxAttempts int) *Notifier {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if settleTime <= 0 {
		settleTime = 10 * time.Second
	}
	if publishRetryCount <= 0 {
		publishRetryCount = 3
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Notifier{
		jobRepo:      jobRepo,
		publisher:    publisher,
		publishRetry: retry.NewPolicy(publishRetryCount),
		pollInterval: pollInterval,
		settleTime:   settleTime,
		maxAttempts:  maxAttempts,
		now:          time.Now,
	}
}

// Run 啟動輪詢迴圈，ctx 取消後結束
func (n *Notifier) Run(ctx context.Context) {
	logger.Log.Info("Notifier 已啟動",
		zap.Duration("poll_interval", n.pollInterval),
		zap.Duration("settle_time", n.settleTime),
	)

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := n.NotifyCompleted(ctx); err != nil {
				logger.Log.Errorf("completed job 掃描失敗:", err)
			}
		case <-ctx.Done():
			logger.Log.Info("Notifier 收到停止訊號")
			return
		}
	}
}

// NotifyCompleted 跑一輪通知，單一 job 的失敗不中斷整批
func (n *Notifier) NotifyCompleted(ctx context.Context) error {
	jobs, err := n.jobRepo.FindByStatus(domain.JobCompleted)
	if err != nil {
		return fmt.Errorf("查詢 completed job 失敗: %w", err)
	}

	for i := range jobs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := n.notifyJob(ctx, &jobs[i]); err != nil {
			logger.Log.Errorf(fmt.Sprintf("jobID[%s] 通知失敗:", jobs[i].ID), err)
		}
	}
	return nil
}

// notifyJob 處理單一 completed job 的通知
func (n *Notifier) notifyJob(ctx context.Context, job *domain.TranscodingJob) error {
	// 沉澱期守門：剛更新的 job 先跳過，避免搶在 Processor 的寫入可見之前發布
	if n.now().Sub(job.UpdatedAt) < n.settleTime {
		logger.Log.Debug("job too fresh, skip this pass", zap.String("job_id", job.ID))
		return nil
	}

	// 先記下這次嘗試再發布，worker 中途掛掉也不會少算
	job.NotificationAttempts++
	if err := n.jobRepo.Update(job); err != nil {
		return fmt.Errorf("更新通知次數失敗: %w", err)
	}

	full, err := n.jobRepo.GetByID(job.ID)
	if err != nil {
		return fmt.Errorf("讀取 job renditions 失敗: %w", err)
	}

	ev := buildTranscodedEvent(full)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化完成事件失敗: %w", err)
	}

	err = n.publishRetry.Do(ctx, func(ctx context.Context) error {
		return n.publisher.Publish(ctx, domain.TranscodedTopic, []byte(job.VideoID), data)
	})
	if err == nil {
		if merr := job.MarkNotified(); merr != nil {
			return merr
		}
		if uerr := n.jobRepo.Update(job); uerr != nil {
			return fmt.Errorf("更新 job 為 notified 失敗: %w", uerr)
		}
		logger.Log.Info("completion event published",
			zap.String("job_id", job.ID),
			zap.String("video_id", job.VideoID),
		)
		return nil
	}

	logger.Log.Warn("publish completion event failed",
		zap.String("job_id", job.ID),
		zap.Int("notification_attempts", job.NotificationAttempts),
		zap.Error(err),
	)

	if job.NotificationAttempts < n.maxAttempts {
		// 下一輪再試
		return nil
	}

	// 累計次數用盡，轉 failed 並盡力發診斷事件
	errMsg := fmt.Sprintf("notification retries exhausted after %d attempts: %v", job.NotificationAttempts, err)
	if merr := job.MarkFailed(errMsg); merr != nil {
		return merr
	}
	if uerr := n.jobRepo.Update(job); uerr != nil {
		return fmt.Errorf("更新 job 為 failed 失敗: %w", uerr)
	}

	n.publishFailureEvent(ctx, job, err)
	return nil
}

// publishFailureEvent 診斷事件發布失敗只記 log，絕不讓它弄倒迴圈
func (n *Notifier) publishFailureEvent(ctx context.Context, job *domain.TranscodingJob, lastErr error) {
	ev := domain.VideoProcessingFailed{
		VideoID:       job.VideoID,
		TenantID:      job.TenantID,
		ErrorMessage:  job.ErrorMessage,
		ExceptionKind: "NotificationRetriesExhausted",
		DiagnosticInfo: map[string]string{
			"job_id":                job.ID,
			"notification_attempts": fmt.Sprintf("%d", job.NotificationAttempts),
			"last_error":            lastErr.Error(),
		},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Errorf("序列化診斷事件失敗:", err)
		return
	}
	if err := n.publisher.Publish(ctx, domain.ProcessingFailedTopic, []byte(job.VideoID), data); err != nil {
		logger.Log.Errorf(fmt.Sprintf("jobID[%s] 診斷事件發布失敗:", job.ID), err)
	}
}

// buildTranscodedEvent job -> VideoTranscoded
func buildTranscodedEvent(job *domain.TranscodingJob) domain.VideoTranscoded {
	renditions := make([]domain.RenditionInfo, len(job.Renditions))
	for i, r := range job.Renditions {
		renditions[i] = domain.RenditionInfo{
			Profile: r.Profile,
			Width:   r.Width,
			Height:  r.Height,
			Path:    r.OutputPath,
		}
	}

	var completedAt time.Time
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}

	return domain.VideoTranscoded{
		JobID:        job.ID,
		VideoID:      job.VideoID,
		TenantID:     job.TenantID,
		ManifestPath: job.ManifestPath,
		Renditions:   renditions,
		CompletedAt:  completedAt,
	}
}
