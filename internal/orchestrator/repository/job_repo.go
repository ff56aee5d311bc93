package repository

import (
	"transcode_pipeline_service/internal/orchestrator/domain"

	"gorm.io/gorm"
)

// JobRepo definition transcoding job store
type JobRepo interface {
	AutoMigrate() error
	Create(job *domain.TranscodingJob) error
	GetByID(id string) (*domain.TranscodingJob, error)
	// GetByVideoID 只找非終態 job，對應「同一 (video, tenant) 最多一筆進行中」的去重檢查
	GetByVideoID(videoID, tenantID string) (*domain.TranscodingJob, error)
	FindByStatus(status domain.JobStatus) ([]domain.TranscodingJob, error)
	Update(job *domain.TranscodingJob) error
	UpdateStatus(id string, status domain.JobStatus, errMsg string) error
}

type jobRepo struct {
	db *gorm.DB
}

// NewJobRepo create JobRepo
func NewJobRepo(db *gorm.DB) JobRepo {
	return &jobRepo{db: db}
}

// AutoMigrate 建立/更新 job 與 rendition 資料表
func (r *jobRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.TranscodingJob{}, &domain.Rendition{})
}

// Create insert one job
func (r *jobRepo) Create(job *domain.TranscodingJob) error {
	return r.db.Create(job).Error
}

// GetByID get job by id, preload renditions
func (r *jobRepo) GetByID(id string) (*domain.TranscodingJob, error) {
	var j domain.TranscodingJob
	if err := r.db.Preload("Renditions").First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// GetByVideoID find the active (non-terminal) job for (videoID, tenantID)
// 找不到回傳 (nil, nil)，讓呼叫端把「不存在」和真正的查詢錯誤分開
func (r *jobRepo) GetByVideoID(videoID, tenantID string) (*domain.TranscodingJob, error) {
	var j domain.TranscodingJob
	err := r.db.
		Where("video_id = ? AND tenant_id = ? AND status NOT IN ?",
			videoID, tenantID, []domain.JobStatus{domain.JobNotified, domain.JobFailed}).
		First(&j).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// FindByStatus find jobs by status
func (r *jobRepo) FindByStatus(status domain.JobStatus) ([]domain.TranscodingJob, error) {
	var jobs []domain.TranscodingJob
	if err := r.db.Where("status = ?", status).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Update save the whole job row including its renditions
// Save 走單列更新，pipeline 依賴 store 的單列原子性，不開多列交易
func (r *jobRepo) Update(job *domain.TranscodingJob) error {
	return r.db.Session(&gorm.Session{FullSaveAssociations: true}).Save(job).Error
}

// UpdateStatus update status and error message only
func (r *jobRepo) UpdateStatus(id string, status domain.JobStatus, errMsg string) error {
	return r.db.Model(&domain.TranscodingJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
		}).Error
}
