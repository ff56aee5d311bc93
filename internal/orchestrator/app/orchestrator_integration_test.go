package app

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"transcode_pipeline_service/internal/orchestrator/domain"
	"transcode_pipeline_service/internal/orchestrator/repository"
	"transcode_pipeline_service/pkg/database"
	"transcode_pipeline_service/pkg/logger"
	testtool "transcode_pipeline_service/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// 需要 Docker，設定 INTEGRATION_TEST=1 才會執行
func skipWithoutDocker(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("set INTEGRATION_TEST=1 to run container-backed tests")
	}
}

// **啟動 PostgreSQL 測試容器並回傳連好的 JobRepo**
func setupJobRepo(t *testing.T) repository.JobRepo {
	ctx := context.Background()

	container, host, port, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image: "postgres:latest",
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "transcodedb",
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn := fmt.Sprintf("host=%s user=test password=test dbname=transcodedb port=%s sslmode=disable", host, port)
	db, err := database.NewPGConnection(database.Connection{
		ConnectStr:    dsn,
		RetryCount:    5,
		RetryInterval: 2,
	})
	require.NoError(t, err)

	repo := repository.NewJobRepo(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

// **啟動 Redis 測試容器並回傳 LockProvider**
func setupLockProvider(t *testing.T) database.LockProvider {
	ctx := context.Background()

	container, host, port, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:latest",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })

	return database.NewRedisLockProvider(client)
}

// TestJobRepoIntegration 用真 PostgreSQL 跑完整工作生命週期
func TestJobRepoIntegration(t *testing.T) {
	skipWithoutDocker(t)
	logger.SetNewNop()
	repo := setupJobRepo(t)

	job := &domain.TranscodingJob{
		ID:        uuid.NewString(),
		VideoID:   "vid-001",
		TenantID:  "tenant-a",
		Status:    domain.JobReceived,
		InputPath: "uploads/vid-001.mp4",
	}
	require.NoError(t, repo.Create(job))

	// 去重查詢找得到非終態 job
	existing, err := repo.GetByVideoID("vid-001", "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, job.ID, existing.ID)

	// received -> processing -> completed，連同 renditions 一起存
	require.NoError(t, job.MarkProcessing())
	require.NoError(t, repo.Update(job))

	job.Renditions = []domain.Rendition{
		{ID: uuid.NewString(), JobID: job.ID, Profile: "720p", Width: 1280, Height: 720, OutputPath: "processed/vid-001/720p/index.m3u8"},
		{ID: uuid.NewString(), JobID: job.ID, Profile: "480p", Width: 854, Height: 480, OutputPath: "processed/vid-001/480p/index.m3u8"},
	}
	require.NoError(t, job.MarkCompleted("processed/vid-001/master.m3u8", time.Now()))
	require.NoError(t, repo.Update(job))

	loaded, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, loaded.Status)
	assert.Equal(t, "processed/vid-001/master.m3u8", loaded.ManifestPath)
	assert.Len(t, loaded.Renditions, 2)

	completed, err := repo.FindByStatus(domain.JobCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	// 進入終態後去重查詢不再回傳，後續上傳可以重新建 job
	require.NoError(t, job.MarkNotified())
	require.NoError(t, repo.Update(job))

	existing, err = repo.GetByVideoID("vid-001", "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, existing)
}

// TestRedisLockIntegration 用真 Redis 驗證鎖互斥與釋放
func TestRedisLockIntegration(t *testing.T) {
	skipWithoutDocker(t)
	logger.SetNewNop()
	lp := setupLockProvider(t)
	ctx := context.Background()

	key := "job-creation:vid-002:tenant-a"

	acquired, err := lp.Acquire(ctx, key, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	// 持有期間再取同一把鎖應失敗
	again, err := lp.Acquire(ctx, key, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, lp.Release(ctx, key))

	// 釋放後可重新取得
	reacquired, err := lp.Acquire(ctx, key, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, reacquired)
	require.NoError(t, lp.Release(ctx, key))
}
