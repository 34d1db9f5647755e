package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"mvgen/model"
)

// ErrDuplicate 主键冲突
var ErrDuplicate = errors.New("repository: duplicate record")

// ER_DUP_ENTRY 主键冲突
const mysqlDuplicateEntry = 1062

// ProjectRepository 项目数据访问接口
type ProjectRepository interface {
	// 项目 CRUD
	Create(ctx context.Context, rec *model.ProjectRecord) error
	GetByID(ctx context.Context, id string) (*model.ProjectRecord, error)
	Save(ctx context.Context, rec *model.ProjectRecord) error
	UpdateStatus(ctx context.Context, id, status string) error
	List(ctx context.Context, limit, offset int) ([]*model.ProjectRecord, int64, error)
	Delete(ctx context.Context, id string) error
	FindBySongHash(ctx context.Context, hash string) (*model.ProjectRecord, error)

	// 导出记录
	CreateExport(ctx context.Context, rec *model.ExportRecord) error
	FinishExport(ctx context.Context, id, state, errMsg, objectKey string, skipped []string) error
	ListExports(ctx context.Context, projectID string, limit int) ([]*model.ExportRecord, error)
}

// gormProjectRepository GORM 实现
type gormProjectRepository struct {
	db *gorm.DB
}

// NewGormProjectRepository 创建 GORM 项目仓库
func NewGormProjectRepository(db *gorm.DB) ProjectRepository {
	return &gormProjectRepository{db: db}
}

// Create 创建项目
func (r *gormProjectRepository) Create(ctx context.Context, rec *model.ProjectRecord) error {
	return translate(r.db.WithContext(ctx).Create(rec).Error)
}

// GetByID 根据ID获取项目，不存在时返回 nil, nil
func (r *gormProjectRepository) GetByID(ctx context.Context, id string) (*model.ProjectRecord, error) {
	var rec model.ProjectRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Save 全量保存项目
func (r *gormProjectRepository) Save(ctx context.Context, rec *model.ProjectRecord) error {
	return translate(r.db.WithContext(ctx).Save(rec).Error)
}

// UpdateStatus 只更新状态字段
func (r *gormProjectRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&model.ProjectRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// List 分页列出项目，按更新时间倒序
func (r *gormProjectRepository) List(ctx context.Context, limit, offset int) ([]*model.ProjectRecord, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.ProjectRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var recs []*model.ProjectRecord
	err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	return recs, total, err
}

// Delete 删除项目及其导出记录
func (r *gormProjectRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&model.ExportRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.ProjectRecord{}).Error
	})
}

// FindBySongHash 查找使用同一音频的最近项目
func (r *gormProjectRepository) FindBySongHash(ctx context.Context, hash string) (*model.ProjectRecord, error) {
	var rec model.ProjectRecord
	err := r.db.WithContext(ctx).
		Where("song_hash = ?", hash).
		Order("updated_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ========== 导出记录 ==========

// CreateExport 记录一次导出
func (r *gormProjectRepository) CreateExport(ctx context.Context, rec *model.ExportRecord) error {
	return translate(r.db.WithContext(ctx).Create(rec).Error)
}

// FinishExport 写入导出结果
func (r *gormProjectRepository) FinishExport(ctx context.Context, id, state, errMsg, objectKey string, skipped []string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.ExportRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":       state,
			"error":       errMsg,
			"object_key":  objectKey,
			"skipped":     model.StringList(skipped),
			"finished_at": &now,
		}).Error
}

// ListExports 列出项目最近的导出
func (r *gormProjectRepository) ListExports(ctx context.Context, projectID string, limit int) ([]*model.ExportRecord, error) {
	var recs []*model.ExportRecord
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// translate 将驱动层的主键冲突统一为 ErrDuplicate
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return ErrDuplicate
	}
	return err
}
