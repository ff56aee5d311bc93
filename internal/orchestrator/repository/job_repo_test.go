package repository

import (
	"testing"
	"time"

	"transcode_pipeline_service/internal/orchestrator/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockRepo 用 go-sqlmock 建立 GORM 測試連線
func newMockRepo(t *testing.T) (JobRepo, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true, // mock 不支援 prepared statements
	})
	db, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return NewJobRepo(db), mock
}

func jobColumns() []string {
	return []string{
		"id", "video_id", "tenant_id", "status", "input_path", "manifest_path",
		"error_message", "retry_count", "notification_attempts",
		"created_at", "updated_at", "completed_at",
	}
}

// 測試 GetByVideoID 去重查詢
func TestGetByVideoID(t *testing.T) {
	t.Run("排除終態 job", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		rows := sqlmock.NewRows(jobColumns()).
			AddRow("job-1", "V1", "T1", "received", "original/V1.mp4", "", "", 0, 0,
				time.Now(), time.Now(), nil)
		mock.ExpectQuery(`SELECT .* FROM "transcoding_jobs" WHERE video_id = \$1 AND tenant_id = \$2 AND status NOT IN \(\$3,\$4\)`).
			WithArgs("V1", "T1", string(domain.JobNotified), string(domain.JobFailed)).
			WillReturnRows(rows)

		job, err := repo.GetByVideoID("V1", "T1")
		assert.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, domain.JobReceived, job.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("不存在回傳 nil, nil", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery(`SELECT .* FROM "transcoding_jobs"`).
			WillReturnRows(sqlmock.NewRows(jobColumns()))

		job, err := repo.GetByVideoID("V9", "T9")
		assert.NoError(t, err)
		assert.Nil(t, job)
	})
}

// 測試 FindByStatus
func TestFindByStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows(jobColumns()).
		AddRow("job-1", "V1", "T1", "completed", "original/V1.mp4", "processed/V1/master.m3u8", "", 1, 0,
			time.Now(), time.Now(), time.Now()).
		AddRow("job-2", "V2", "T1", "completed", "original/V2.mp4", "processed/V2/master.m3u8", "", 1, 2,
			time.Now(), time.Now(), time.Now())
	mock.ExpectQuery(`SELECT .* FROM "transcoding_jobs" WHERE status = \$1`).
		WithArgs(string(domain.JobCompleted)).
		WillReturnRows(rows)

	jobs, err := repo.FindByStatus(domain.JobCompleted)
	assert.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 測試 UpdateStatus 只動 status 與 error_message
func TestUpdateStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "transcoding_jobs" SET .*"error_message".*"status".*WHERE id = \$\d`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateStatus("job-1", domain.JobFailed, "ffmpeg exited 1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
