package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
)

type PostgresDB struct {
	logger *logger.Logger

	Conn *gorm.DB
}

func NewPostgresDB(user, password, dbname, host string, port int, logger *logger.Logger) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)

	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Subscription{},
		&models.UsageMetrics{},
		&models.PaymentVerification{},
		&models.Settlement{},
		&models.ScheduledTask{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return &PostgresDB{Conn: db, logger: logger}, nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Close()
}

func (db *PostgresDB) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := db.Conn.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (db *PostgresDB) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// UpdateSubscription runs fn on the row locked with SELECT ... FOR UPDATE, so
// concurrent updates of one subscription are serialized across instances.
func (db *PostgresDB) UpdateSubscription(ctx context.Context, id string, fn func(*models.Subscription) error) (*models.Subscription, error) {
	var sub models.Subscription
	err := db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrSubscriptionNotFound
			}
			return fmt.Errorf("failed to lock subscription: %w", err)
		}
		if err := fn(&sub); err != nil {
			return err
		}
		if err := tx.Save(&sub).Error; err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (db *PostgresDB) FindSubscriptions(ctx context.Context, subscriber, planID string) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	q := db.Conn.WithContext(ctx).Where("subscriber = ?", subscriber)
	if planID != "" {
		q = q.Where("plan_id = ?", planID)
	}
	if err := q.Order("created_at DESC").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to find subscriptions: %w", err)
	}
	return subs, nil
}

func (db *PostgresDB) AppendUsage(ctx context.Context, metrics *models.UsageMetrics) error {
	if err := db.Conn.WithContext(ctx).Create(metrics).Error; err != nil {
		return fmt.Errorf("failed to append usage: %w", err)
	}
	return nil
}

func (db *PostgresDB) ListUsage(ctx context.Context, subscriptionID string) ([]*models.UsageMetrics, error) {
	var rows []*models.UsageMetrics
	if err := db.Conn.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	return rows, nil
}

func (db *PostgresDB) SaveVerification(ctx context.Context, v *models.PaymentVerification) (*models.PaymentVerification, error) {
	res := db.Conn.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(v)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to save verification: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return v, nil
	}
	return db.GetVerificationByTransaction(ctx, v.TransactionHash)
}

func (db *PostgresDB) GetVerificationByTransaction(ctx context.Context, txHash string) (*models.PaymentVerification, error) {
	var v models.PaymentVerification
	if err := db.Conn.WithContext(ctx).Where("transaction_hash = ?", txHash).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	return &v, nil
}

func (db *PostgresDB) GetSettlement(ctx context.Context, paymentID string) (*models.Settlement, error) {
	var s models.Settlement
	if err := db.Conn.WithContext(ctx).Where("payment_id = ?", paymentID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return &s, nil
}

// SaveSettlement relies on the payment_id primary key: a second insert for the
// same payment affects no rows.
func (db *PostgresDB) SaveSettlement(ctx context.Context, s *models.Settlement) (bool, error) {
	res := db.Conn.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(s)
	if res.Error != nil {
		return false, fmt.Errorf("failed to save settlement: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *PostgresDB) ListSettlements(ctx context.Context, reference string) ([]*models.Settlement, error) {
	var rows []*models.Settlement
	q := db.Conn.WithContext(ctx)
	if reference != "" {
		q = q.Where("reference = ?", reference)
	}
	if err := q.Order("settled_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	return rows, nil
}

func (db *PostgresDB) Schedule(ctx context.Context, task *models.ScheduledTask) error {
	err := db.Conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"subscription_id", "kind", "due_at", "attempts"}),
	}).Create(task).Error
	if err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}
	return nil
}

func (db *PostgresDB) CancelFor(ctx context.Context, subscriptionID string) error {
	if err := db.Conn.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Delete(&models.ScheduledTask{}).Error; err != nil {
		return fmt.Errorf("failed to cancel tasks: %w", err)
	}
	return nil
}

// PopDue claims due rows with FOR UPDATE SKIP LOCKED so that several workers
// can drain one queue without handing out a task twice.
func (db *PostgresDB) PopDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error) {
	var tasks []*models.ScheduledTask
	err := db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("due_at <= ?", now).
			Order("due_at, id")
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Find(&tasks).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		ids := make([]string, len(tasks))
		for i, t := range tasks {
			ids[i] = t.ID
		}
		return tx.Where("id IN ?", ids).Delete(&models.ScheduledTask{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pop due tasks: %w", err)
	}
	return tasks, nil
}
