package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/ticket-mailer/internal/domain"
	"gorm.io/gorm"
)

type TicketRepository interface {
	Claim(ctx context.Context, id int64) (bool, error)
	Fetch(ctx context.Context, id int64) (*domain.Ticket, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkRejected(ctx context.Context, id int64) error
	ListPending(ctx context.Context) ([]int64, error)
	ReleaseInFlight(ctx context.Context) (int64, error)
}

type GormTicketRepo struct {
	db  *gorm.DB
	now func() time.Time
}

var _ TicketRepository = (*GormTicketRepo)(nil)

func NewGormTicketRepo(db *gorm.DB) *GormTicketRepo {
	return newGormTicketRepo(db, time.Now)
}

func newGormTicketRepo(db *gorm.DB, nowFn func() time.Time) *GormTicketRepo {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &GormTicketRepo{db: db, now: nowFn}
}

// Claim moves a received ticket to processing. It reports false when the
// ticket is missing or was already claimed.
func (r *GormTicketRepo) Claim(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&TicketModel{}).
		Where("id = ? AND status = ?", id, domain.StatusReceived).
		Update("status", domain.StatusProcessing)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormTicketRepo) Fetch(ctx context.Context, id int64) (*domain.Ticket, error) {
	var model TicketModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ticketModelToDomain(&model), nil
}

func (r *GormTicketRepo) MarkCompleted(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).
		Model(&TicketModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":  domain.StatusCompleted,
			"sent_at": r.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkRejected stamps sent_at and leaves the status at processing, so the
// ticket is never released for another attempt.
func (r *GormTicketRepo) MarkRejected(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).
		Model(&TicketModel{}).
		Where("id = ?", id).
		Update("sent_at", r.now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormTicketRepo) ListPending(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&TicketModel{}).
		Where("status IN ?", domain.PendingStatuses()).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ReleaseInFlight returns processing tickets that were never sent or rejected
// to received, and reports how many were released.
func (r *GormTicketRepo) ReleaseInFlight(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&TicketModel{}).
		Where("status = ? AND sent_at IS NULL", domain.StatusProcessing).
		Update("status", domain.StatusReceived)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Insert stores a new ticket. Tickets are normally created by the upstream
// application; this is used by tooling and tests.
func (r *GormTicketRepo) Insert(ctx context.Context, t *domain.Ticket) error {
	if t == nil {
		return errors.New("ticket is required")
	}

	model := ticketModelFromDomain(t)
	if model.Status == "" {
		model.Status = domain.StatusReceived
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*t = *ticketModelToDomain(model)
	return nil
}
