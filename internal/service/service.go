// Package service реализует бизнес-логику подбора исполнителей: заказы, предложения
// и их ранжирование Fair-Play.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/fairmatch/internal/fairness"
	"github.com/mmeshcher/fairmatch/internal/model"
	"github.com/mmeshcher/fairmatch/internal/validation"
)

const (
	// DefaultListLimit задаёт размер выдачи открытых заказов по умолчанию.
	DefaultListLimit = 50
	// MaxListLimit ограничивает размер выдачи открытых заказов.
	MaxListLimit = 100
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpsertUser(ctx context.Context, u model.User) error
	CreateJob(ctx context.Context, job model.Job) (*model.Job, error)
	GetJob(ctx context.Context, id int64) (*model.Job, error)
	ListJobsByStatus(ctx context.Context, status model.JobStatus, limit int) ([]model.Job, error)
	CreateBid(ctx context.Context, bid model.Bid) (*model.Bid, error)
	AcceptBid(ctx context.Context, bidID, customerID int64, now time.Time) (*model.Bid, error)
	ListBidsWithProviders(ctx context.Context, jobID int64) ([]model.BidWithProvider, error)
}

// IdentityClient возвращает актуальный профиль пользователя из системы учётных записей.
type IdentityClient interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// CreateJobInput содержит поля нового заказа.
type CreateJobInput struct {
	Title       string
	Description string
	Category    string
	Budget      model.Money
	Latitude    float64
	Longitude   float64
}

// Service содержит бизнес-логику подбора исполнителей.
type Service struct {
	repo     Repository
	identity IdentityClient
	scorer   fairness.Scorer
	now      func() time.Time
}

// NewService создаёт сервис. identity может быть nil: тогда профили читаются только из хранилища.
func NewService(repo Repository, identity IdentityClient) *Service {
	return &Service{
		repo:     repo,
		identity: identity,
		scorer:   fairness.NewScorer(),
		now:      time.Now,
	}
}

// ResolvePrincipal возвращает профиль аутентифицированного пользователя.
// Если подключена система учётных записей, профиль берётся из неё и сохраняется в проекцию users,
// по которой ранжируются предложения.
func (s *Service) ResolvePrincipal(ctx context.Context, userID int64) (*model.User, error) {
	if s.identity == nil {
		return s.repo.GetUser(ctx, userID)
	}

	u, err := s.identity.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if err := s.repo.UpsertUser(ctx, *u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateJob создаёт открытый заказ от имени клиента.
func (s *Service) CreateJob(ctx context.Context, customer model.User, in CreateJobInput) (*model.Job, error) {
	if customer.Role != model.RoleCustomer {
		return nil, fmt.Errorf("%w: only customers can create jobs", model.ErrForbidden)
	}

	if err := validation.Text("title", in.Title, validation.TitleMinLen, validation.TitleMaxLen); err != nil {
		return nil, err
	}
	if err := validation.Text("description", in.Description, 1, validation.DescriptionMaxLen); err != nil {
		return nil, err
	}
	if err := validation.Text("category", in.Category, 0, validation.CategoryMaxLen); err != nil {
		return nil, err
	}
	if err := validation.Amount("budget", in.Budget); err != nil {
		return nil, err
	}
	if err := validation.Coordinates(in.Latitude, in.Longitude); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	return s.repo.CreateJob(ctx, model.Job{
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Budget:      in.Budget,
		Status:      model.JobStatusOpen,
		CustomerID:  customer.ID,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// PlaceBid сохраняет предложение исполнителя по открытому заказу.
func (s *Service) PlaceBid(ctx context.Context, provider model.User, jobID int64, amount model.Money, message string) (*model.Bid, error) {
	if provider.Role != model.RoleProvider {
		return nil, fmt.Errorf("%w: only providers can place bids", model.ErrForbidden)
	}
	if err := validation.Amount("amount", amount); err != nil {
		return nil, err
	}
	if err := validation.Text("message", message, 0, validation.MessageMaxLen); err != nil {
		return nil, err
	}

	return s.repo.CreateBid(ctx, model.Bid{
		JobID:      jobID,
		ProviderID: provider.ID,
		Amount:     amount,
		Message:    message,
		CreatedAt:  s.now().UTC(),
	})
}

// AcceptBid принимает предложение и переводит заказ в работу.
func (s *Service) AcceptBid(ctx context.Context, bidID int64, customer model.User) (*model.Bid, error) {
	return s.repo.AcceptBid(ctx, bidID, customer.ID, s.now().UTC())
}

// GetRankedBids возвращает предложения по заказу в порядке Fair-Play.
func (s *Service) GetRankedBids(ctx context.Context, jobID int64) ([]model.RankedBid, error) {
	bids, err := s.repo.ListBidsWithProviders(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.scorer.Rank(bids, s.now()), nil
}

// GetJob возвращает заказ по id.
func (s *Service) GetJob(ctx context.Context, jobID int64) (*model.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

// ListOpenJobs возвращает открытые заказы, новые первыми. limit == 0 означает размер по умолчанию.
func (s *Service) ListOpenJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 0 || limit > MaxListLimit {
		return nil, model.NewValidationError("limit", "must be between 1 and %d", MaxListLimit)
	}
	return s.repo.ListJobsByStatus(ctx, model.JobStatusOpen, limit)
}
