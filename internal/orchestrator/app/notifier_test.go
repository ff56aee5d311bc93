package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"transcode_pipeline_service/internal/orchestrator/domain"
	"transcode_pipeline_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func completedJob(id, videoID string, updatedAt time.Time, attempts int) domain.TranscodingJob {
	done := updatedAt.Add(-time.Second)
	return domain.TranscodingJob{
		ID:                   id,
		VideoID:              videoID,
		TenantID:             "T1",
		Status:               domain.JobCompleted,
		ManifestPath:         "processed/" + videoID + "/master.m3u8",
		NotificationAttempts: attempts,
		UpdatedAt:            updatedAt,
		CompletedAt:          &done,
	}
}

// fastNotifier 測試用，固定 now 並把退避縮到毫秒
func fastNotifier(repo *MockJobRepo, pub *MockEventPublisher, now time.Time) *Notifier {
	n := NewNotifier(repo, pub, 30*time.Second, 10*time.Second, 3, 5)
	n.publishRetry.BaseDelay = time.Millisecond
	n.now = func() time.Time { return now }
	return n
}

// lastUpdatedJob 取最後一次 Update 收到的 job
func lastUpdatedJob(t *testing.T, m *MockJobRepo) *domain.TranscodingJob {
	t.Helper()
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Method == "Update" {
			return m.Calls[i].Arguments.Get(0).(*domain.TranscodingJob)
		}
	}
	t.Fatal("no Update call recorded")
	return nil
}

// 測試 NotifyCompleted
func TestNotifyCompleted(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	now := time.Now()

	// **情境 1: 發布成功轉 notified**
	t.Run("發布成功", func(t *testing.T) {
		mockRepo := new(MockJobRepo)
		mockPub := new(MockEventPublisher)
		n := fastNotifier(mockRepo, mockPub, now)

		job := completedJob("job-1", "V1", now.Add(-time.Minute), 0)
		full := job
		full.Renditions = []domain.Rendition{{ID: "r-1", JobID: "job-1", Profile: "720p", Width: 1280, Height: 720, OutputPath: "processed/V1/720p/index.m3u8"}}

		mockRepo.On("FindByStatus", domain.JobCompleted).Return([]domain.TranscodingJob{job}, nil)
		mockRepo.On("Update", mock.Anything).Return(nil)
		mockRepo.On("GetByID", "job-1").Return(&full, nil)

		var published domain.VideoTranscoded
		mockPub.On("Publish", mock.Anything, domain.TranscodedTopic, []byte("V1"), mock.Anything).
			Return(nil).Run(func(args mock.Arguments) {
			assert.NoError(t, json.Unmarshal(args.Get(3).([]byte), &published))
		})

		err := n.NotifyCompleted(ctx)
		assert.NoError(t, err)

		assert.Equal(t, "job-1", published.JobID)
		assert.Equal(t, "V1", published.VideoID)
		assert.Equal(t, "T1", published.TenantID)
		assert.Equal(t, "processed/V1/master.m3u8", published.ManifestPath)
		assert.Len(t, published.Renditions, 1)
		assert.Equal(t, "720p", published.Renditions[0].Profile)

		lastUpdate := lastUpdatedJob(t, mockRepo)
		assert.Equal(t, domain.JobNotified, lastUpdate.Status)
		assert.Equal(t, 1, lastUpdate.NotificationAttempts)
	})

	// **情境 2: 沉澱期守門，太新的 job 這輪跳過**
	t.Run("沉澱期守門", func(t *testing.T) {
		mockRepo := new(MockJobRepo)
		mockPub := new(MockEventPublisher)
		n := fastNotifier(mockRepo, mockPub, now)

		job := completedJob("job-1", "V1", now.Add(-3*time.Second), 0)
		mockRepo.On("FindByStatus", domain.JobCompleted).Return([]domain.TranscodingJob{job}, nil)

		err := n.NotifyCompleted(ctx)
		assert.NoError(t, err)
		mockPub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		mockRepo.AssertNotCalled(t, "Update", mock.Anything)
	})

	// **情境 3: 發布失敗但未達上限，留在 completed 等下一輪**
	t.Run("發布失敗等下一輪", func(t *testing.T) {
		mockRepo := new(MockJobRepo)
		mockPub := new(MockEventPublisher)
		n := fastNotifier(mockRepo, mockPub, now)

		job := completedJob("job-1", "V1", now.Add(-time.Minute), 1)
		full := job
		mockRepo.On("FindByStatus", domain.JobCompleted).Return([]domain.TranscodingJob{job}, nil)
		mockRepo.On("Update", mock.Anything).Return(nil)
		mockRepo.On("GetByID", "job-1").Return(&full, nil)
		mockPub.On("Publish", mock.Anything, domain.TranscodedTopic, mock.Anything, mock.Anything).
			Return(errors.New("broker down"))

		err := n.NotifyCompleted(ctx)
		assert.NoError(t, err)

		// 單輪內重試 3 次
		mockPub.AssertNumberOfCalls(t, "Publish", 3)
		// 沒有轉 failed，也沒有診斷事件
		mockPub.AssertNotCalled(t, "Publish", mock.Anything, domain.ProcessingFailedTopic, mock.Anything, mock.Anything)
		lastUpdate := lastUpdatedJob(t, mockRepo)
		assert.Equal(t, domain.JobCompleted, lastUpdate.Status)
		assert.Equal(t, 2, lastUpdate.NotificationAttempts)
	})

	// **情境 4: 累計次數用盡轉 failed 並發一次診斷事件**
	t.Run("重試用盡轉 failed", func(t *testing.T) {
		mockRepo := new(MockJobRepo)
		mockPub := new(MockEventPublisher)
		n := fastNotifier(mockRepo, mockPub, now)

		// 這輪是第 5 次累計嘗試
		job := completedJob("job-1", "V1", now.Add(-time.Minute), 4)
		full := job
		mockRepo.On("FindByStatus", domain.JobCompleted).Return([]domain.TranscodingJob{job}, nil)
		mockRepo.On("Update", mock.Anything).Return(nil)
		mockRepo.On("GetByID", "job-1").Return(&full, nil)
		mockPub.On("Publish", mock.Anything, domain.TranscodedTopic, mock.Anything, mock.Anything).
			Return(errors.New("broker down"))

		var failure domain.VideoProcessingFailed
		mockPub.On("Publish", mock.Anything, domain.ProcessingFailedTopic, mock.Anything, mock.Anything).
			Return(nil).Run(func(args mock.Arguments) {
			assert.NoError(t, json.Unmarshal(args.Get(3).([]byte), &failure))
		}).Once()

		err := n.NotifyCompleted(ctx)
		assert.NoError(t, err)

		assert.Equal(t, "V1", failure.VideoID)
		assert.Equal(t, "T1", failure.TenantID)
		assert.NotEmpty(t, failure.ErrorMessage)
		assert.Equal(t, "NotificationRetriesExhausted", failure.ExceptionKind)
		assert.Equal(t, "job-1", failure.DiagnosticInfo["job_id"])
		assert.Equal(t, "5", failure.DiagnosticInfo["notification_attempts"])

		lastUpdate := lastUpdatedJob(t, mockRepo)
		assert.Equal(t, domain.JobFailed, lastUpdate.Status)
		assert.NotEmpty(t, lastUpdate.ErrorMessage)
	})

	// **情境 5: 診斷事件發布失敗只記 log，不讓它弄倒迴圈**
	t.Run("診斷事件失敗不拋出", func(t *testing.T) {
		mockRepo := new(MockJobRepo)
		mockPub := new(MockEventPublisher)
		n := fastNotifier(mockRepo, mockPub, now)

		job := completedJob("job-1", "V1", now.Add(-time.Minute), 4)
		full := job
		mockRepo.On("FindByStatus", domain.JobCompleted).Return([]domain.TranscodingJob{job}, nil)
		mockRepo.On("Update", mock.Anything).Return(nil)
		mockRepo.On("GetByID", "job-1").Return(&full, nil)
		mockPub.On("Publish", mock.Anything, domain.TranscodedTopic, mock.Anything, mock.Anything).
			Return(errors.New("broker down"))
		mockPub.On("Publish", mock.Anything, domain.ProcessingFailedTopic, mock.Anything, mock.Anything).
			Return(errors.New("broker still down"))

		err := n.NotifyCompleted(ctx)
		assert.NoError(t, err)
	})

	// **情境 6: 一個 job 失敗不擋整批**
	t.Run("批次獨立", func(t *testing.T) {
		mockRepo := new(MockJobRepo)
		mockPub := new(MockEventPublisher)
		n := fastNotifier(mockRepo, mockPub, now)

		jobA := completedJob("job-1", "V1", now.Add(-time.Minute), 0)
		jobB := completedJob("job-2", "V2", now.Add(-time.Minute), 0)
		fullB := jobB
		mockRepo.On("FindByStatus", domain.JobCompleted).Return([]domain.TranscodingJob{jobA, jobB}, nil)
		// job-1 更新通知次數就失敗
		mockRepo.On("Update", mock.MatchedBy(func(j *domain.TranscodingJob) bool {
			return j.ID == "job-1"
		})).Return(errors.New("pg down"))
		mockRepo.On("Update", mock.MatchedBy(func(j *domain.TranscodingJob) bool {
			return j.ID == "job-2"
		})).Return(nil)
		mockRepo.On("GetByID", "job-2").Return(&fullB, nil)
		mockPub.On("Publish", mock.Anything, domain.TranscodedTopic, []byte("V2"), mock.Anything).Return(nil)

		err := n.NotifyCompleted(ctx)
		assert.NoError(t, err)
		mockPub.AssertCalled(t, "Publish", mock.Anything, domain.TranscodedTopic, []byte("V2"), mock.Anything)
	})
}
