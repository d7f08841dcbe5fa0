package repository

import (
	"context"
	"errors"
	"time"

	"crewtext/backend/internal/models"

	"gorm.io/gorm"
)

// ErrBudgetExhausted is returned when a budget decrement matched no row,
// meaning the assignment's remaining reminder count was already zero.
var ErrBudgetExhausted = errors.New("reminder budget exhausted")

// AssignmentRepository provides access to shift reminder assignments.
type AssignmentRepository interface {
	// FindByWorkDate returns all assignments whose shift falls on the given
	// calendar date. Eligibility filtering happens in the scheduler.
	FindByWorkDate(ctx context.Context, workDate time.Time) ([]models.ReminderAssignment, error)
	FindByJobID(ctx context.Context, jobID string) ([]models.ReminderAssignment, error)
	FindByJobAndAssociate(ctx context.Context, jobID string, associateID uint) (*models.ReminderAssignment, error)
	// ConsumeReminderBudget atomically decrements the remaining budget and
	// advances the last-contact timestamp. Guarded so the budget never
	// drops below zero.
	ConsumeReminderBudget(ctx context.Context, id uint, at time.Time) error
}

type GormAssignmentRepository struct {
	db *gorm.DB
}

func NewGormAssignmentRepository(db *gorm.DB) *GormAssignmentRepository {
	return &GormAssignmentRepository{db: db}
}

func (r *GormAssignmentRepository) FindByWorkDate(ctx context.Context, workDate time.Time) ([]models.ReminderAssignment, error) {
	var assignments []models.ReminderAssignment
	day := workDate.Format("2006-01-02")
	err := r.db.WithContext(ctx).
		Where("work_date = ?", day).
		Order("id ASC").
		Find(&assignments).Error
	return assignments, err
}

func (r *GormAssignmentRepository) FindByJobID(ctx context.Context, jobID string) ([]models.ReminderAssignment, error) {
	var assignments []models.ReminderAssignment
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&assignments).Error
	return assignments, err
}

func (r *GormAssignmentRepository) FindByJobAndAssociate(ctx context.Context, jobID string, associateID uint) (*models.ReminderAssignment, error) {
	var assignment models.ReminderAssignment
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND associate_id = ?", jobID, associateID).
		First(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *GormAssignmentRepository) ConsumeReminderBudget(ctx context.Context, id uint, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.ReminderAssignment{}).
		Where("id = ? AND num_reminders > 0", id).
		Updates(map[string]interface{}{
			"num_reminders":      gorm.Expr("num_reminders - 1"),
			"last_reminder_time": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBudgetExhausted
	}
	return nil
}

var _ AssignmentRepository = (*GormAssignmentRepository)(nil)
