package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/model"
)

// ExamReader is the read side of the exam catalog tables.
type ExamReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	IsActive(ctx context.Context, id uuid.UUID) (bool, error)
}

// CatalogService serves exam definitions (questions and answer keys included)
// from Redis, falling back to PostgreSQL.
type CatalogService struct {
	exams ExamReader
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(exams ExamReader, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		exams: exams,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "catalog").Logger(),
	}
}

// GetExam returns a NotFoundError when the exam does not exist.
func (c *CatalogService) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	key := config.CacheKey.ExamDefinitionKey(id.String())

	cached, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var exam model.Exam
		if jsonErr := json.Unmarshal(cached, &exam); jsonErr == nil {
			return &exam, nil
		}
		c.log.Warn().Str("exam_id", id.String()).Msg("Discarding corrupt exam cache entry")
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Exam cache unavailable")
	}

	exam, err := c.exams.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "exam", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	if data, err := json.Marshal(exam); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to cache exam")
		}
	}
	return exam, nil
}

// IsActive reads availability from PostgreSQL, bypassing the cache. A closed
// exam also drops its cached definition.
func (c *CatalogService) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	active, err := c.exams.IsActive(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, &NotFoundError{Resource: "exam", ID: id.String()}
	}
	if err != nil {
		return false, fmt.Errorf("get exam availability: %w", err)
	}
	if !active {
		if err := c.Invalidate(ctx, id); err != nil {
			c.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to drop closed exam from cache")
		}
	}
	return active, nil
}

// Invalidate drops the cached definition, e.g. after is_active changes.
func (c *CatalogService) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.ExamDefinitionKey(id.String())).Err()
}
