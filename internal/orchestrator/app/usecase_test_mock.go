package app

import (
	"context"
	"time"

	"transcode_pipeline_service/internal/orchestrator/domain"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/mock"
)

// MockJobRepo Mock JobRepo
type MockJobRepo struct {
	mock.Mock
}

// AutoMigrate moke migrate
func (m *MockJobRepo) AutoMigrate() error {
	args := m.Called()
	return args.Error(0)
}

// Create moke create job
func (m *MockJobRepo) Create(job *domain.TranscodingJob) error {
	args := m.Called(job)
	return args.Error(0)
}

// GetByID moke get job by id
func (m *MockJobRepo) GetByID(id string) (*domain.TranscodingJob, error) {
	args := m.Called(id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.TranscodingJob), args.Error(1)
	}
	return nil, args.Error(1)
}

// GetByVideoID moke dedupe lookup
func (m *MockJobRepo) GetByVideoID(videoID, tenantID string) (*domain.TranscodingJob, error) {
	args := m.Called(videoID, tenantID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.TranscodingJob), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindByStatus moke find jobs by status
func (m *MockJobRepo) FindByStatus(status domain.JobStatus) ([]domain.TranscodingJob, error) {
	args := m.Called(status)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.TranscodingJob), args.Error(1)
	}
	return nil, args.Error(1)
}

// Update moke update job
func (m *MockJobRepo) Update(job *domain.TranscodingJob) error {
	args := m.Called(job)
	return args.Error(0)
}

// UpdateStatus moke update job status
func (m *MockJobRepo) UpdateStatus(id string, status domain.JobStatus, errMsg string) error {
	args := m.Called(id, status, errMsg)
	return args.Error(0)
}

// MockLockProvider Mock LockProvider
type MockLockProvider struct {
	mock.Mock
}

// Acquire moke acquire lease
func (m *MockLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

// Release moke release lease
func (m *MockLockProvider) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockEncodingEngine Mock EncodingEngine
type MockEncodingEngine struct {
	mock.Mock
}

// IsJobActive moke engine active check
func (m *MockEncodingEngine) IsJobActive(ctx context.Context, videoID string) (bool, error) {
	args := m.Called(ctx, videoID)
	return args.Bool(0), args.Error(1)
}

// Process moke engine process
func (m *MockEncodingEngine) Process(ctx context.Context, job *domain.TranscodingJob) (*domain.RenditionSet, error) {
	args := m.Called(ctx, job)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.RenditionSet), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockEventPublisher Mock EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

// Publish moke publish event
func (m *MockEventPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

// Close moke close publisher
func (m *MockEventPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRabbitChannel Mock RabbitMQ repo
type MockRabbitChannel struct {
	mock.Mock
}

// GetRabbit moke get channel
func (m *MockRabbitChannel) GetRabbit() *amqp.Channel {
	args := m.Called()
	return args.Get(0).(*amqp.Channel)
}

// Publish moke publish
func (m *MockRabbitChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

// Consume moke consume
func (m *MockRabbitChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, amqpArgs amqp.Table) (<-chan amqp.Delivery, error) {
	args := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, amqpArgs)
	if args.Get(0) != nil {
		return args.Get(0).(<-chan amqp.Delivery), args.Error(1)
	}
	return nil, args.Error(1)
}
