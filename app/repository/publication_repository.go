package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"gorm.io/gorm"
)

type publicationRepository struct {
	db *gorm.DB
}

// NewPublicationRepository creates a new publication repository instance
func NewPublicationRepository(db *gorm.DB) PublicationRepository {
	return &publicationRepository{db: db}
}

func (r *publicationRepository) Create(publication *models.Publication) error {
	return r.db.Create(publication).Error
}

func (r *publicationRepository) GetByID(id uint) (*models.Publication, error) {
	var p models.Publication
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *publicationRepository) GetByUUID(uuid string) (*models.Publication, error) {
	var p models.Publication
	if err := r.db.Where("uuid = ?", uuid).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// LockByID loads the publication and holds its row lock until the transaction ends.
func (r *publicationRepository) LockByID(id uint) (*models.Publication, error) {
	var p models.Publication
	if err := forUpdate(r.db).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateState writes status and expires_at unconditionally. Activation relies
// on this to win against a concurrent sweep that paused the row.
func (r *publicationRepository) UpdateState(id uint, status string, expiresAt *time.Time) error {
	res := r.db.Model(&models.Publication{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"expires_at": expiresAt,
	})
	return checkAffected(r.db, &models.Publication{}, id, res)
}

func (r *publicationRepository) MarkCompleted(id uint, at time.Time) error {
	res := r.db.Model(&models.Publication{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       models.PublicationStatusCompleted,
		"completed_at": at,
	})
	return checkAffected(r.db, &models.Publication{}, id, res)
}

func (r *publicationRepository) ListByOwner(ownerID uint, offset, limit int) ([]models.Publication, error) {
	var list []models.Publication
	q := r.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Order("id DESC")
	err := paginate(q, offset, limit).Find(&list).Error
	return list, err
}

func (r *publicationRepository) CountByOwner(ownerID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Publication{}).Where("owner_id = ?", ownerID).Count(&count).Error
	return count, err
}

// tierRankSQL mirrors models.VisibilityTier.Rank for ORDER BY.
var tierRankSQL = fmt.Sprintf(
	"CASE tariff_assignments.visibility_tier WHEN '%s' THEN 3 WHEN '%s' THEN 2 WHEN '%s' THEN 1 ELSE 0 END DESC",
	models.TierGold, models.TierPremium, models.TierBasic,
)

func (r *publicationRepository) publicQuery(kind string) *gorm.DB {
	q := r.db.Model(&models.Publication{}).
		Joins("LEFT JOIN tariff_assignments ON tariff_assignments.publication_id = publications.id AND tariff_assignments.status = ?", models.AssignmentStatusActive).
		Where("publications.status = ?", models.PublicationStatusActive)
	if kind = strings.TrimSpace(kind); kind != "" {
		q = q.Where("publications.kind = ?", kind)
	}
	return q
}

// ListPublic returns active publications, highest visibility tier first, then newest.
func (r *publicationRepository) ListPublic(kind string, offset, limit int) ([]models.Publication, error) {
	var list []models.Publication
	q := r.publicQuery(kind).
		Select("publications.*").
		Order(tierRankSQL).
		Order("publications.created_at DESC").
		Order("publications.id DESC")
	err := paginate(q, offset, limit).Find(&list).Error
	return list, err
}

func (r *publicationRepository) CountPublic(kind string) (int64, error) {
	var count int64
	err := r.publicQuery(kind).Count(&count).Error
	return count, err
}

// PauseExpired pauses every active publication whose deadline passed. The
// status condition makes repeated runs no-ops.
func (r *publicationRepository) PauseExpired(now time.Time) (int64, error) {
	res := r.db.Model(&models.Publication{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.PublicationStatusActive, now).
		Updates(map[string]interface{}{"status": models.PublicationStatusPaused})
	return res.RowsAffected, res.Error
}

// AddViewCounts applies pending view increments in a single statement.
func (r *publicationRepository) AddViewCounts(counts map[uint]int64) error {
	if len(counts) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args []interface{}
		ids  []uint
	)
	sb.WriteString("CASE id")
	for id, n := range counts {
		if n <= 0 {
			continue
		}
		sb.WriteString(" WHEN ? THEN view_count + ?")
		args = append(args, id, n)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	sb.WriteString(" ELSE view_count END")
	return r.db.Model(&models.Publication{}).
		Where("id IN ?", ids).
		UpdateColumn("view_count", gorm.Expr(sb.String(), args...)).Error
}
