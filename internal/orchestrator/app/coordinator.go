package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"transcode_pipeline_service/internal/orchestrator/domain"
	"transcode_pipeline_service/internal/orchestrator/repository"
	"transcode_pipeline_service/pkg/database"
	"transcode_pipeline_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMalformedEvent 合約錯誤：事件缺少必要欄位，重投不會變好
var ErrMalformedEvent = errors.New("malformed upload event")

// Coordinator 消費上傳通知並保證每支影片只建一筆 job
// 鎖擋掉同時送達的重複訊息，存在性檢查擋掉先後送達的重複訊息，
// 兩道防線合起來承受 at-least-once 投遞。
type Coordinator struct {
	jobRepo   repository.JobRepo
	lock      database.LockProvider
	rabbit    database.RabbitRepo
	lockTTL   time.Duration
	queueName string
}

// NewCoordinator 建構 Coordinator 實例
func NewCoordinator(jobRepo repository.JobRepo, lock database.LockProvider, rabbit database.RabbitRepo, lockTTL time.Duration) *Coordinator {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &Coordinator{
		jobRepo:   jobRepo,
		lock:      lock,
		rabbit:    rabbit,
		lockTTL:   lockTTL,
		queueName: domain.UploadQueueName,
	}
}

// lockKey job 建立鎖的 key
func lockKey(videoID, tenantID string) string {
	return "job-creation:" + videoID + ":" + tenantID
}

// HandleVideoUploaded 冪等地為上傳事件建立 job
// 不可恢復的錯誤往外拋，讓訊息匯流排重新投遞整個 handler。
func (c *Coordinator) HandleVideoUploaded(ctx context.Context, ev domain.VideoUploaded) error {
	if ev.VideoID == "" || ev.TenantID == "" {
		logger.Log.Error(fmt.Sprintf("VideoUploaded 缺少必要欄位: video_id[%s] tenant_id[%s]", ev.VideoID, ev.TenantID))
		return fmt.Errorf("%w: video_id[%s] tenant_id[%s]", ErrMalformedEvent, ev.VideoID, ev.TenantID)
	}

	key := lockKey(ev.VideoID, ev.TenantID)
	acquired, err := database.WithLock(ctx, c.lock, key, c.lockTTL, func(ctx context.Context) error {
		// 鎖內做存在性檢查，已有進行中 job 就直接結束
		existing, err := c.jobRepo.GetByVideoID(ev.VideoID, ev.TenantID)
		if err != nil {
			return fmt.Errorf("查詢既有 job 失敗: %w", err)
		}
		if existing != nil {
			logger.Log.Info("job already exists, skip creation",
				zap.String("video_id", ev.VideoID),
				zap.String("tenant_id", ev.TenantID),
				zap.String("job_id", existing.ID),
			)
			return nil
		}

		job := &domain.TranscodingJob{
			ID:        uuid.NewString(),
			VideoID:   ev.VideoID,
			TenantID:  ev.TenantID,
			Status:    domain.JobReceived,
			InputPath: ev.FilePath,
		}
		if err := c.jobRepo.Create(job); err != nil {
			return fmt.Errorf("建立 job 失敗: %w", err)
		}

		logger.Log.Info("transcoding job created",
			zap.String("job_id", job.ID),
			zap.String("video_id", ev.VideoID),
			zap.String("tenant_id", ev.TenantID),
		)
		return nil
	})
	if err != nil {
		return err
	}
	if !acquired {
		// 鎖被其他 worker 拿走代表同一事件正在處理，不算錯誤
		logger.Log.Info("job creation lock held by another worker, skip",
			zap.String("video_id", ev.VideoID),
			zap.String("tenant_id", ev.TenantID),
		)
	}
	return nil
}

// StartConsumer 開始消費上傳通知訊息
func (c *Coordinator) StartConsumer(ctx context.Context) {
	msgs, err := c.rabbit.Consume(
		c.queueName,
		"",    // consumer tag，留空由系統分配
		false, // autoAck 為 false，使用手動確認
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		logger.Log.Fatal("無法開始消費上傳通知", zap.Error(err))
	}

	logger.Log.Info("Coordinator 已啟動，等待上傳通知訊息...")

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				logger.Log.Warn("上傳通知 channel 已關閉")
				return
			}

			var ev domain.VideoUploaded
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				// 格式錯誤屬於合約錯誤，重投也不會變好，交給 dead-letter
				logger.Log.Errorf("解析上傳通知失敗:", err)
				if err := d.Nack(false, false); err != nil {
					logger.Log.Errorf("Nack 訊息失敗:", err)
				}
				continue
			}

			if err := c.HandleVideoUploaded(ctx, ev); err != nil {
				logger.Log.Errorf("處理上傳通知失敗:", err)
				// 合約錯誤不重投；其餘失敗重新排入佇列，建立流程冪等所以重投安全
				requeue := !errors.Is(err, ErrMalformedEvent)
				if err := d.Nack(false, requeue); err != nil {
					logger.Log.Errorf("Nack 訊息失敗:", err)
				}
				continue
			}

			if err := d.Ack(false); err != nil {
				logger.Log.Errorf("確認訊息失敗:", err)
			}
		case <-ctx.Done():
			logger.Log.Info("Coordinator 收到停止訊號")
			return
		}
	}
}
