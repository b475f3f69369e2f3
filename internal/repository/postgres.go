// Package repository содержит реализации хранилища заказов, предложений и координат исполнителей.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/fairmatch/internal/geo"
	"github.com/mmeshcher/fairmatch/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool        *pgxpool.Pool
	retryDelays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, retryDelays: defaultRetryDelays}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	return withRetry(ctx, r.retryDelays, isPostgresRetryable, fn)
}

// isPostgresRetryable отделяет временные сбои от ошибок, которые повтор не исправит.
func isPostgresRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}
	return pgconn.SafeToRetry(err) || isConnectionError(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = `id, title, description, category, budget, status, customer_id,
	latitude, longitude, version, created_at, updated_at`

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j      model.Job
		budget int64
		status string
	)
	err := row.Scan(&j.ID, &j.Title, &j.Description, &j.Category, &budget, &status, &j.CustomerID,
		&j.Latitude, &j.Longitude, &j.Version, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Budget = model.Money(budget)
	j.Status = model.JobStatus(status)
	return &j, nil
}

// GetUser возвращает пользователя из локальной проекции users.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT id, role, fairness_score, created_at FROM users WHERE id = $1`,
			id,
		).Scan(&u.ID, &role, &u.FairnessScore, &u.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// UpsertUser создаёт или обновляет пользователя. Дата регистрации после первой записи не меняется.
func (r *PostgresRepository) UpsertUser(ctx context.Context, u model.User) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users (id, role, fairness_score, created_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role, fairness_score = EXCLUDED.fairness_score`,
			u.ID, string(u.Role), u.FairnessScore, u.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// CreateJob сохраняет заказ и возвращает его с присвоенным id.
func (r *PostgresRepository) CreateJob(ctx context.Context, job model.Job) (*model.Job, error) {
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO jobs (title, description, category, budget, status, customer_id,
				latitude, longitude, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING id`,
			job.Title, job.Description, job.Category, int64(job.Budget), string(job.Status), job.CustomerID,
			job.Latitude, job.Longitude, job.Version, job.CreatedAt, job.UpdatedAt,
		).Scan(&job.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return &job, nil
}

// GetJob возвращает заказ по id.
func (r *PostgresRepository) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	var job *model.Job
	err := r.withRetry(ctx, func() error {
		var err error
		job, err = scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobsByStatus возвращает заказы с указанным статусом, новые первыми.
func (r *PostgresRepository) ListJobsByStatus(ctx context.Context, status model.JobStatus, limit int) ([]model.Job, error) {
	var jobs []model.Job
	err := r.withRetry(ctx, func() error {
		jobs = nil
		rows, err := r.pool.Query(ctx,
			`SELECT `+jobColumns+`
			 FROM jobs
			 WHERE status = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			string(status), limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return fmt.Errorf("scan job: %w", err)
			}
			jobs = append(jobs, *j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// CreateBid сохраняет предложение, если заказ открыт. Проверка статуса и вставка выполняются
// в одной транзакции под разделяемой блокировкой строки заказа: параллельные ставки не мешают
// друг другу, а принятие предложения ждёт их завершения.
func (r *PostgresRepository) CreateBid(ctx context.Context, bid model.Bid) (*model.Bid, error) {
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var status string
		err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR SHARE`, bid.JobID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrJobNotFound
			}
			return fmt.Errorf("lock job: %w", err)
		}
		if model.JobStatus(status) != model.JobStatusOpen {
			return ErrJobNotOpen
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO bids (job_id, provider_id, amount, message, accepted, created_at)
			 VALUES ($1, $2, $3, $4, FALSE, $5)
			 RETURNING id`,
			bid.JobID, bid.ProviderID, int64(bid.Amount), bid.Message, bid.CreatedAt,
		).Scan(&bid.ID)
		if err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("create bid: %w", err)
	}
	bid.Accepted = false
	return &bid, nil
}

// AcceptBid принимает предложение и переводит заказ в IN_PROGRESS одной транзакцией.
// Строка заказа блокируется FOR UPDATE, поэтому из двух параллельных принятий успешно только одно.
func (r *PostgresRepository) AcceptBid(ctx context.Context, bidID, customerID int64, now time.Time) (*model.Bid, error) {
	var bid model.Bid
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var amount int64
		err = tx.QueryRow(ctx,
			`SELECT id, job_id, provider_id, amount, message, accepted, created_at FROM bids WHERE id = $1`,
			bidID,
		).Scan(&bid.ID, &bid.JobID, &bid.ProviderID, &amount, &bid.Message, &bid.Accepted, &bid.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrBidNotFound
			}
			return fmt.Errorf("select bid: %w", err)
		}
		bid.Amount = model.Money(amount)

		var (
			owner  int64
			status string
		)
		err = tx.QueryRow(ctx,
			`SELECT customer_id, status FROM jobs WHERE id = $1 FOR UPDATE`,
			bid.JobID,
		).Scan(&owner, &status)
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}

		if owner != customerID {
			return ErrNotJobOwner
		}
		if model.JobStatus(status) != model.JobStatusOpen {
			return ErrJobNotOpen
		}

		if _, err := tx.Exec(ctx, `UPDATE bids SET accepted = TRUE WHERE id = $1`, bid.ID); err != nil {
			if isUniqueViolation(err) {
				return ErrJobNotOpen
			}
			return fmt.Errorf("accept bid: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE jobs SET status = $2, version = version + 1, updated_at = $3 WHERE id = $1`,
			bid.JobID, string(model.JobStatusInProgress), now,
		)
		if err != nil {
			return fmt.Errorf("update job status: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("accept bid: %w", err)
	}
	bid.Accepted = true
	return &bid, nil
}

// ListBidsWithProviders возвращает предложения по заказу вместе с профилями исполнителей.
// Чтение выполняется в одной транзакции REPEATABLE READ, поэтому заказ и его ставки согласованы.
func (r *PostgresRepository) ListBidsWithProviders(ctx context.Context, jobID int64) ([]model.BidWithProvider, error) {
	var res []model.BidWithProvider
	err := r.withRetry(ctx, func() error {
		res = nil
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
			return fmt.Errorf("check job: %w", err)
		}
		if !exists {
			return ErrJobNotFound
		}

		rows, err := tx.Query(ctx,
			`SELECT b.id, b.job_id, b.provider_id, b.amount, b.message, b.accepted, b.created_at,
				u.id, u.role, u.fairness_score, u.created_at
			 FROM bids b
			 JOIN users u ON u.id = b.provider_id
			 WHERE b.job_id = $1
			 ORDER BY b.id`,
			jobID,
		)
		if err != nil {
			return fmt.Errorf("select bids: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				bp     model.BidWithProvider
				amount int64
				role   string
			)
			err := rows.Scan(&bp.Bid.ID, &bp.Bid.JobID, &bp.Bid.ProviderID, &amount, &bp.Bid.Message,
				&bp.Bid.Accepted, &bp.Bid.CreatedAt,
				&bp.Provider.ID, &role, &bp.Provider.FairnessScore, &bp.Provider.CreatedAt)
			if err != nil {
				return fmt.Errorf("scan bid: %w", err)
			}
			bp.Bid.Amount = model.Money(amount)
			bp.Provider.Role = model.Role(role)
			res = append(res, bp)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return res, nil
}

// UpsertLocation записывает координату исполнителя. Более старая отметка не перезаписывает более новую.
func (r *PostgresRepository) UpsertLocation(ctx context.Context, loc model.ProviderLocation) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO provider_locations (provider_id, latitude, longitude, last_updated)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (provider_id) DO UPDATE
			 SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, last_updated = EXCLUDED.last_updated
			 WHERE provider_locations.last_updated <= EXCLUDED.last_updated`,
			loc.ProviderID, loc.Latitude, loc.Longitude, loc.LastUpdated,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

func (r *PostgresRepository) queryLocations(ctx context.Context, query string, args ...any) ([]model.ProviderLocation, error) {
	var res []model.ProviderLocation
	err := r.withRetry(ctx, func() error {
		res = nil
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var l model.ProviderLocation
			if err := rows.Scan(&l.ProviderID, &l.Latitude, &l.Longitude, &l.LastUpdated); err != nil {
				return fmt.Errorf("scan location: %w", err)
			}
			res = append(res, l)
		}
		return rows.Err()
	})
	return res, err
}

// LocationsInBox возвращает координаты, попадающие в прямоугольник.
func (r *PostgresRepository) LocationsInBox(ctx context.Context, box geo.Box) ([]model.ProviderLocation, error) {
	res, err := r.queryLocations(ctx,
		`SELECT provider_id, latitude, longitude, last_updated
		 FROM provider_locations
		 WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4`,
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
	)
	if err != nil {
		return nil, fmt.Errorf("locations in box: %w", err)
	}
	return res, nil
}

// LocationsByProviders возвращает координаты перечисленных исполнителей.
func (r *PostgresRepository) LocationsByProviders(ctx context.Context, providerIDs []int64) ([]model.ProviderLocation, error) {
	res, err := r.queryLocations(ctx,
		`SELECT provider_id, latitude, longitude, last_updated
		 FROM provider_locations
		 WHERE provider_id = ANY($1)`,
		providerIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("locations by providers: %w", err)
	}
	return res, nil
}

// ListLocations возвращает все сохранённые координаты.
func (r *PostgresRepository) ListLocations(ctx context.Context) ([]model.ProviderLocation, error) {
	res, err := r.queryLocations(ctx,
		`SELECT provider_id, latitude, longitude, last_updated FROM provider_locations ORDER BY provider_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return res, nil
}
