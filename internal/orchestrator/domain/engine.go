package domain

import "context"

// RenditionSet 編碼引擎的輸出：manifest 加上各畫質結果
type RenditionSet struct {
	ManifestPath string
	Renditions   []Rendition
}

// EncodingEngine definition the transcode engine invoked by the processor
// IsJobActive 是引擎層的冪等檢查：引擎已在處理該影片時 processor 必須跳過。
type EncodingEngine interface {
	IsJobActive(ctx context.Context, videoID string) (bool, error)
	Process(ctx context.Context, job *TranscodingJob) (*RenditionSet, error)
}
