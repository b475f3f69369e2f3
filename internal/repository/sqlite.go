package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/mmeshcher/fairmatch/internal/geo"
	"github.com/mmeshcher/fairmatch/internal/model"
)

type userRow struct {
	ID            int64     `gorm:"primaryKey;autoIncrement:false"`
	Role          string    `gorm:"size:16;not null"`
	FairnessScore float64   `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (userRow) TableName() string { return "users" }

type jobRow struct {
	ID          int64     `gorm:"primaryKey"`
	Title       string    `gorm:"size:100;not null"`
	Description string    `gorm:"size:2000;not null"`
	Category    string    `gorm:"size:50;not null"`
	Budget      int64     `gorm:"not null"`
	Status      string    `gorm:"size:16;not null;index:idx_jobs_status_created,priority:1"`
	CustomerID  int64     `gorm:"not null;index"`
	Latitude    float64   `gorm:"not null"`
	Longitude   float64   `gorm:"not null"`
	Version     int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"index:idx_jobs_status_created,priority:2"`
	UpdatedAt   time.Time
}

func (jobRow) TableName() string { return "jobs" }

type bidRow struct {
	ID         int64     `gorm:"primaryKey"`
	JobID      int64     `gorm:"not null;index"`
	ProviderID int64     `gorm:"not null"`
	Amount     int64     `gorm:"not null"`
	Message    string    `gorm:"size:500;not null"`
	Accepted   bool      `gorm:"not null"`
	CreatedAt  time.Time
}

func (bidRow) TableName() string { return "bids" }

type locationRow struct {
	ProviderID  int64     `gorm:"primaryKey;autoIncrement:false"`
	Latitude    float64   `gorm:"not null;index:idx_provider_locations_lat_lon,priority:1"`
	Longitude   float64   `gorm:"not null;index:idx_provider_locations_lat_lon,priority:2"`
	LastUpdated time.Time `gorm:"not null"`
}

func (locationRow) TableName() string { return "provider_locations" }

type bidProviderRow struct {
	ID                    int64
	JobID                 int64
	ProviderID            int64
	Amount                int64
	Message               string
	Accepted              bool
	CreatedAt             time.Time
	ProviderRole          string
	ProviderFairnessScore float64
	ProviderCreatedAt     time.Time
}

func (r userRow) toModel() *model.User {
	return &model.User{ID: r.ID, Role: model.Role(r.Role), FairnessScore: r.FairnessScore, CreatedAt: r.CreatedAt}
}

func (r jobRow) toModel() *model.Job {
	return &model.Job{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Budget:      model.Money(r.Budget),
		Status:      model.JobStatus(r.Status),
		CustomerID:  r.CustomerID,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (r bidRow) toModel() *model.Bid {
	return &model.Bid{
		ID:         r.ID,
		JobID:      r.JobID,
		ProviderID: r.ProviderID,
		Amount:     model.Money(r.Amount),
		Message:    r.Message,
		Accepted:   r.Accepted,
		CreatedAt:  r.CreatedAt,
	}
}

func (r locationRow) toModel() model.ProviderLocation {
	return model.ProviderLocation{
		ProviderID:  r.ProviderID,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		LastUpdated: r.LastUpdated,
	}
}

// SQLiteRepository реализует хранилище на встраиваемой SQLite для локального запуска и тестов.
// Все транзакции идут через единственное соединение и поэтому выполняются по очереди.
type SQLiteRepository struct {
	db          *gorm.DB
	retryDelays []time.Duration
}

// NewSQLiteRepository открывает (или создаёт) файл БД и мигрирует схему.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRow{}, &jobRow{}, &bidRow{}, &locationRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto migrate models: %w", err)
	}

	err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_one_accepted ON bids (job_id) WHERE accepted`).Error
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create accepted bid index: %w", err)
	}

	return &SQLiteRepository{db: db, retryDelays: defaultRetryDelays}, nil
}

func isSQLiteRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func isSQLiteUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteRepository) withRetry(ctx context.Context, fn func() error) error {
	return withRetry(ctx, s.retryDelays, isSQLiteRetryable, fn)
}

// Ping проверяет доступность БД.
func (s *SQLiteRepository) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close закрывает базу данных.
func (s *SQLiteRepository) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// GetUser возвращает пользователя из локальной проекции users.
func (s *SQLiteRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var row userRow
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).First(&row, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return row.toModel(), nil
}

// UpsertUser создаёт или обновляет пользователя. Дата регистрации после первой записи не меняется.
func (s *SQLiteRepository) UpsertUser(ctx context.Context, u model.User) error {
	row := userRow{ID: u.ID, Role: string(u.Role), FairnessScore: u.FairnessScore, CreatedAt: u.CreatedAt}
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "fairness_score"}),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// CreateJob сохраняет заказ и возвращает его с присвоенным id.
func (s *SQLiteRepository) CreateJob(ctx context.Context, job model.Job) (*model.Job, error) {
	row := jobRow{
		Title:       job.Title,
		Description: job.Description,
		Category:    job.Category,
		Budget:      int64(job.Budget),
		Status:      string(job.Status),
		CustomerID:  job.CustomerID,
		Latitude:    job.Latitude,
		Longitude:   job.Longitude,
		Version:     job.Version,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	err := s.withRetry(ctx, func() error {
		row.ID = 0
		return s.db.WithContext(ctx).Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return row.toModel(), nil
}

// GetJob возвращает заказ по id.
func (s *SQLiteRepository) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	var row jobRow
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).First(&row, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return row.toModel(), nil
}

// ListJobsByStatus возвращает заказы с указанным статусом, новые первыми.
func (s *SQLiteRepository) ListJobsByStatus(ctx context.Context, status model.JobStatus, limit int) ([]model.Job, error) {
	var rows []jobRow
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("status = ?", string(status)).
			Order("created_at DESC, id DESC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]model.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, *r.toModel())
	}
	return jobs, nil
}

// CreateBid сохраняет предложение, если заказ открыт. Проверка и вставка выполняются в одной транзакции.
func (s *SQLiteRepository) CreateBid(ctx context.Context, bid model.Bid) (*model.Bid, error) {
	row := bidRow{
		JobID:      bid.JobID,
		ProviderID: bid.ProviderID,
		Amount:     int64(bid.Amount),
		Message:    bid.Message,
		CreatedAt:  bid.CreatedAt,
	}
	err := s.withRetry(ctx, func() error {
		row.ID = 0
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var job jobRow
			if err := tx.Select("id", "status").First(&job, bid.JobID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrJobNotFound
				}
				return fmt.Errorf("select job: %w", err)
			}
			if model.JobStatus(job.Status) != model.JobStatusOpen {
				return ErrJobNotOpen
			}

			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert bid: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create bid: %w", err)
	}
	return row.toModel(), nil
}

// AcceptBid принимает предложение и переводит заказ в IN_PROGRESS одной транзакцией.
func (s *SQLiteRepository) AcceptBid(ctx context.Context, bidID, customerID int64, now time.Time) (*model.Bid, error) {
	var bid bidRow
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&bid, bidID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrBidNotFound
				}
				return fmt.Errorf("select bid: %w", err)
			}

			var job jobRow
			if err := tx.First(&job, bid.JobID).Error; err != nil {
				return fmt.Errorf("select job: %w", err)
			}

			if job.CustomerID != customerID {
				return ErrNotJobOwner
			}
			if model.JobStatus(job.Status) != model.JobStatusOpen {
				return ErrJobNotOpen
			}

			err := tx.Model(&bidRow{}).Where("id = ?", bid.ID).Update("accepted", true).Error
			if err != nil {
				if isSQLiteUniqueViolation(err) {
					return ErrJobNotOpen
				}
				return fmt.Errorf("accept bid: %w", err)
			}

			err = tx.Model(&jobRow{}).Where("id = ?", job.ID).Updates(map[string]any{
				"status":     string(model.JobStatusInProgress),
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			}).Error
			if err != nil {
				return fmt.Errorf("update job status: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("accept bid: %w", err)
	}
	bid.Accepted = true
	return bid.toModel(), nil
}

// ListBidsWithProviders возвращает предложения по заказу вместе с профилями исполнителей.
func (s *SQLiteRepository) ListBidsWithProviders(ctx context.Context, jobID int64) ([]model.BidWithProvider, error) {
	var rows []bidProviderRow
	err := s.withRetry(ctx, func() error {
		rows = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&jobRow{}).Where("id = ?", jobID).Count(&count).Error; err != nil {
				return fmt.Errorf("check job: %w", err)
			}
			if count == 0 {
				return ErrJobNotFound
			}

			return tx.Table("bids").
				Select(`bids.id, bids.job_id, bids.provider_id, bids.amount, bids.message, bids.accepted, bids.created_at,
					users.role AS provider_role, users.fairness_score AS provider_fairness_score,
					users.created_at AS provider_created_at`).
				Joins("JOIN users ON users.id = bids.provider_id").
				Where("bids.job_id = ?", jobID).
				Order("bids.id").
				Scan(&rows).Error
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}

	res := make([]model.BidWithProvider, 0, len(rows))
	for _, r := range rows {
		res = append(res, model.BidWithProvider{
			Bid: model.Bid{
				ID:         r.ID,
				JobID:      r.JobID,
				ProviderID: r.ProviderID,
				Amount:     model.Money(r.Amount),
				Message:    r.Message,
				Accepted:   r.Accepted,
				CreatedAt:  r.CreatedAt,
			},
			Provider: model.User{
				ID:            r.ProviderID,
				Role:          model.Role(r.ProviderRole),
				FairnessScore: r.ProviderFairnessScore,
				CreatedAt:     r.ProviderCreatedAt,
			},
		})
	}
	return res, nil
}

// UpsertLocation записывает координату исполнителя. Более старая отметка не перезаписывает более новую.
func (s *SQLiteRepository) UpsertLocation(ctx context.Context, loc model.ProviderLocation) error {
	row := locationRow{
		ProviderID:  loc.ProviderID,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		LastUpdated: loc.LastUpdated.UTC(),
	}
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "last_updated"}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("provider_locations.last_updated <= excluded.last_updated"),
			}},
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) findLocations(ctx context.Context, query func(*gorm.DB) *gorm.DB) ([]model.ProviderLocation, error) {
	var rows []locationRow
	err := s.withRetry(ctx, func() error {
		return query(s.db.WithContext(ctx)).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	res := make([]model.ProviderLocation, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toModel())
	}
	return res, nil
}

// LocationsInBox возвращает координаты, попадающие в прямоугольник.
func (s *SQLiteRepository) LocationsInBox(ctx context.Context, box geo.Box) ([]model.ProviderLocation, error) {
	res, err := s.findLocations(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?",
			box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
	})
	if err != nil {
		return nil, fmt.Errorf("locations in box: %w", err)
	}
	return res, nil
}

// LocationsByProviders возвращает координаты перечисленных исполнителей.
func (s *SQLiteRepository) LocationsByProviders(ctx context.Context, providerIDs []int64) ([]model.ProviderLocation, error) {
	if len(providerIDs) == 0 {
		return nil, nil
	}
	res, err := s.findLocations(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("provider_id IN ?", providerIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("locations by providers: %w", err)
	}
	return res, nil
}

// ListLocations возвращает все сохранённые координаты.
func (s *SQLiteRepository) ListLocations(ctx context.Context) ([]model.ProviderLocation, error) {
	res, err := s.findLocations(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Order("provider_id")
	})
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return res, nil
}
