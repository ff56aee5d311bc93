package domain

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus definition transcoding job status
type JobStatus string

const (
	//JobReceived job status is received
	JobReceived JobStatus = "received"
	//JobProcessing job status is processing
	JobProcessing JobStatus = "processing"
	//JobCompleted job status is completed
	JobCompleted JobStatus = "completed"
	//JobNotified job status is notified (terminal)
	JobNotified JobStatus = "notified"
	//JobFailed job status is failed (terminal)
	JobFailed JobStatus = "failed"
)

// ErrInvalidTransition job status can't move that way
var ErrInvalidTransition = errors.New("invalid job status transition")

// TranscodingJob 定義轉碼工作模型
// 同一 (VideoID, TenantID) 任一時間最多只有一筆非終態 job，
// 由 Coordinator 的鎖 + 去重檢查保證，不靠資料庫約束。
// 狀態只能透過 Mark* 方法前進，不可逆轉。
type TranscodingJob struct {
	ID       string `gorm:"primaryKey"`
	VideoID  string `gorm:"index:idx_job_video_tenant"`
	TenantID string `gorm:"index:idx_job_video_tenant"`

	Status       JobStatus
	InputPath    string
	ManifestPath string
	ErrorMessage string

	// RetryCount 處理被撿起的次數；NotificationAttempts 發布嘗試累計
	RetryCount           int
	NotificationAttempts int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	Renditions []Rendition `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

// Rendition 定義單一畫質輸出，CompletedAt 寫入後即不可變
type Rendition struct {
	ID      string `gorm:"primaryKey"`
	JobID   string `gorm:"index"`
	Profile string // 例如 "720p"
	Width   int
	Height  int

	OutputPath  string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// IsTerminal notified 和 failed 是唯二終態
func (s JobStatus) IsTerminal() bool {
	return s == JobNotified || s == JobFailed
}

// MarkProcessing received -> processing
func (j *TranscodingJob) MarkProcessing() error {
	switch j.Status {
	case JobReceived:
		j.Status = JobProcessing
		j.RetryCount++
		return nil
	default:
		return transitionErr(j.Status, JobProcessing)
	}
}

// MarkCompleted processing -> completed, 附上 manifest 與完成時間
func (j *TranscodingJob) MarkCompleted(manifestPath string, at time.Time) error {
	switch j.Status {
	case JobProcessing:
		j.Status = JobCompleted
		j.ManifestPath = manifestPath
		j.CompletedAt = &at
		return nil
	default:
		return transitionErr(j.Status, JobCompleted)
	}
}

// MarkNotified completed -> notified
func (j *TranscodingJob) MarkNotified() error {
	switch j.Status {
	case JobCompleted:
		j.Status = JobNotified
		return nil
	default:
		return transitionErr(j.Status, JobNotified)
	}
}

// MarkFailed processing/completed -> failed
// processing 失敗是編碼錯誤，completed 失敗是通知重試用盡
func (j *TranscodingJob) MarkFailed(errMsg string) error {
	switch j.Status {
	case JobProcessing, JobCompleted:
		j.Status = JobFailed
		j.ErrorMessage = errMsg
		return nil
	default:
		return transitionErr(j.Status, JobFailed)
	}
}

func transitionErr(from, to JobStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
