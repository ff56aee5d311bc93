package app

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"transcode_pipeline_service/internal/orchestrator/domain"
	"transcode_pipeline_service/pkg/database"
	errprocess "transcode_pipeline_service/pkg/err"
	"transcode_pipeline_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EncodeProfile 一個輸出畫質
type EncodeProfile struct {
	Name   string
	Width  int
	Height int
}

// DefaultProfiles 預設輸出畫質
var DefaultProfiles = []EncodeProfile{
	{Name: "720p", Width: 1280, Height: 720},
	{Name: "480p", Width: 854, Height: 480},
}

// FFmpegEngine 以 FFmpeg 實作編碼引擎：
// 1. 從 MinIO 下載原始影片檔
// 2. 每個畫質用 FFmpeg 轉成 HLS
// 3. 轉碼結果上傳到 MinIO 的 processed/{videoID}/ 目錄
// 4. 清理本地暫存檔案
type FFmpegEngine struct {
	minioClient database.MinIOClientRepo
	profiles    []EncodeProfile
	tmpDir      string

	mu     sync.Mutex
	active map[string]struct{} // 進行中的 videoID
}

// NewFFmpegEngine 建構 FFmpegEngine 實例
func NewFFmpegEngine(minioClient database.MinIOClientRepo, profiles []EncodeProfile) *FFmpegEngine {
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}
	return &FFmpegEngine{
		minioClient: minioClient,
		profiles:    profiles,
		tmpDir:      "./tmp",
		active:      map[string]struct{}{},
	}
}

// IsJobActive 引擎是否已在處理該影片
func (e *FFmpegEngine) IsJobActive(ctx context.Context, videoID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[videoID]
	return ok, nil
}

// Process 執行轉碼，成功回傳 manifest 與各畫質 rendition
func (e *FFmpegEngine) Process(ctx context.Context, job *domain.TranscodingJob) (*domain.RenditionSet, error) {
	e.mu.Lock()
	if _, ok := e.active[job.VideoID]; ok {
		e.mu.Unlock()
		return nil, errprocess.Set(fmt.Sprintf("videoID[%s] 引擎已在處理中", job.VideoID))
	}
	e.active[job.VideoID] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.active, job.VideoID)
		e.mu.Unlock()
	}()

	localInputPath := filepath.Join(e.tmpDir, fmt.Sprintf("%s_original.mp4", job.VideoID))
	localOutputDir := filepath.Join(e.tmpDir, fmt.Sprintf("%s_processed", job.VideoID))

	if err := os.MkdirAll(localOutputDir, 0755); err != nil {
		return nil, fmt.Errorf("建立轉碼輸出目錄失敗: %w", err)
	}
	defer func() {
		// 清理本地暫存檔案
		if err := os.Remove(localInputPath); err != nil && !os.IsNotExist(err) {
			logger.Log.Warn("清理本地原始檔失敗", zap.Error(err))
		}
		if err := os.RemoveAll(localOutputDir); err != nil {
			logger.Log.Warn("清理本地轉碼輸出目錄失敗", zap.Error(err))
		}
	}()

	logger.Log.Info("下載原始影片",
		zap.String("video_id", job.VideoID),
		zap.String("object_key", job.InputPath),
	)
	if err := e.minioClient.DownloadFile(ctx, job.InputPath, localInputPath); err != nil {
		return nil, fmt.Errorf("下載原始影片失敗: %w", err)
	}

	now := time.Now()
	renditions := make([]domain.Rendition, 0, len(e.profiles))

	for _, profile := range e.profiles {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		profileDir := filepath.Join(localOutputDir, profile.Name)
		if err := os.MkdirAll(profileDir, 0755); err != nil {
			return nil, fmt.Errorf("建立畫質輸出目錄失敗: %w", err)
		}

		if err := transcodeToHLS(ctx, localInputPath, profileDir, profile); err != nil {
			return nil, fmt.Errorf("profile[%s] 轉碼失敗: %w", profile.Name, err)
		}

		// 上傳該畫質所有分段與 playlist
		files, err := os.ReadDir(profileDir)
		if err != nil {
			return nil, fmt.Errorf("讀取轉碼輸出目錄失敗: %w", err)
		}
		for _, file := range files {
			objectName := fmt.Sprintf("processed/%s/%s/%s", job.VideoID, profile.Name, file.Name())
			localFilePath := filepath.Join(profileDir, file.Name())
			if err := e.minioClient.UploadFile(ctx, objectName, localFilePath, getContentType(objectName)); err != nil {
				return nil, fmt.Errorf("上傳轉碼結果失敗: %w", err)
			}
		}

		done := time.Now()
		renditions = append(renditions, domain.Rendition{
			ID:          uuid.NewString(),
			JobID:       job.ID,
			Profile:     profile.Name,
			Width:       profile.Width,
			Height:      profile.Height,
			OutputPath:  fmt.Sprintf("processed/%s/%s/index.m3u8", job.VideoID, profile.Name),
			CreatedAt:   now,
			CompletedAt: &done,
		})
	}

	// 產生 master manifest 指向各畫質 playlist
	manifestLocal := filepath.Join(localOutputDir, "master.m3u8")
	if err := writeMasterManifest(manifestLocal, e.profiles); err != nil {
		return nil, fmt.Errorf("產生 master manifest 失敗: %w", err)
	}
	manifestObject := fmt.Sprintf("processed/%s/master.m3u8", job.VideoID)
	if err := e.minioClient.UploadFile(ctx, manifestObject, manifestLocal, getContentType(manifestObject)); err != nil {
		return nil, fmt.Errorf("上傳 master manifest 失敗: %w", err)
	}

	return &domain.RenditionSet{
		ManifestPath: manifestObject,
		Renditions:   renditions,
	}, nil
}

// transcodeToHLS 將 inputPath 依 profile 縮放後轉成 HLS，輸出到 outputDir
func transcodeToHLS(ctx context.Context, inputPath, outputDir string, profile EncodeProfile) error {
	cmdArgs := []string{
		"-i", inputPath,
		"-vf", fmt.Sprintf("scale=%d:%d", profile.Width, profile.Height),
		"-c:v", "libx264",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "0",
		fmt.Sprintf("%s/index.m3u8", outputDir),
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", cmdArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("FFmpeg HLS 錯誤: %v, output: %s", err, string(output))
	}
	return nil
}

// writeMasterManifest 簡單的 HLS master playlist
func writeMasterManifest(path string, profiles []EncodeProfile) error {
	content := "#EXTM3U\n#EXT-X-VERSION:3\n"
	for _, p := range profiles {
		content += fmt.Sprintf("#EXT-X-STREAM-INF:RESOLUTION=%dx%d\n%s/index.m3u8\n", p.Width, p.Height, p.Name)
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func getContentType(filename string) string {
	ext := filepath.Ext(filename)
	switch ext {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	default:
		return "application/octet-stream"
	}
}
