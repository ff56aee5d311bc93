package domain

import "time"

const (
	//UploadQueueName definition inbound upload event queue name
	UploadQueueName = "video.uploaded"
	//TranscodedTopic definition outbound success event topic
	TranscodedTopic = "video.transcoded"
	//ProcessingFailedTopic definition outbound failure event topic
	ProcessingFailedTopic = "video.processing.failed"
)

// VideoUploaded 定義上傳完成通知訊息
type VideoUploaded struct {
	VideoID  string `json:"video_id"`
	TenantID string `json:"tenant_id"`
	FilePath string `json:"file_path"` // 原始檔在 MinIO 上的 object key
}

// RenditionInfo one encoded output inside a VideoTranscoded event
type RenditionInfo struct {
	Profile string `json:"profile"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Path    string `json:"path"`
}

// VideoTranscoded 定義轉碼完成事件
type VideoTranscoded struct {
	JobID        string          `json:"job_id"`
	VideoID      string          `json:"video_id"`
	TenantID     string          `json:"tenant_id"`
	ManifestPath string          `json:"manifest_path"`
	Renditions   []RenditionInfo `json:"renditions"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// VideoProcessingFailed 定義處理失敗診斷事件
type VideoProcessingFailed struct {
	VideoID        string            `json:"video_id"`
	TenantID       string            `json:"tenant_id"`
	ErrorMessage   string            `json:"error_message"`
	ExceptionKind  string            `json:"exception_kind"`
	DiagnosticInfo map[string]string `json:"diagnostic_info"`
}
