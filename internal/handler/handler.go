// Package handler содержит HTTP-обработчики API сервиса подбора исполнителей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/fairmatch/internal/middleware"
	"github.com/mmeshcher/fairmatch/internal/model"
	"github.com/mmeshcher/fairmatch/internal/service"
)

// DefaultRadiusMeters используется, если радиус поиска не указан в запросе.
const DefaultRadiusMeters = 5000.0

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateJob(ctx context.Context, customer model.User, in service.CreateJobInput) (*model.Job, error)
	GetJob(ctx context.Context, jobID int64) (*model.Job, error)
	ListOpenJobs(ctx context.Context, limit int) ([]model.Job, error)
	PlaceBid(ctx context.Context, provider model.User, jobID int64, amount model.Money, message string) (*model.Bid, error)
	AcceptBid(ctx context.Context, bidID int64, customer model.User) (*model.Bid, error)
	GetRankedBids(ctx context.Context, jobID int64) ([]model.RankedBid, error)
}

// GeoIndex определяет контракт индекса координат исполнителей.
type GeoIndex interface {
	UpsertLocation(ctx context.Context, providerID int64, lat, lon float64) (*model.ProviderLocation, error)
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64) ([]model.NearbyProvider, error)
}

// Notifier получает уведомления о размещённых и принятых предложениях.
type Notifier interface {
	BidPlaced(ctx context.Context, bid model.Bid)
	BidAccepted(ctx context.Context, bid model.Bid, customerID int64)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	geo            GeoIndex
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	bidLimiter     *middleware.RateLimiter
	notifier       Notifier
	healthCheck    func(ctx context.Context) error
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, g GeoIndex, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		geo:            g,
		logger:         logger,
		authMiddleware: auth,
	}
}

// WithNotifier подключает отправку уведомлений о предложениях.
func (h *Handler) WithNotifier(n Notifier) *Handler {
	h.notifier = n
	return h
}

// WithBidLimiter ограничивает частоту размещения предложений.
func (h *Handler) WithBidLimiter(l *middleware.RateLimiter) *Handler {
	h.bidLimiter = l
	return h
}

// WithHealthCheck задаёт проверку зависимостей для /health.
func (h *Handler) WithHealthCheck(check func(ctx context.Context) error) *Handler {
	h.healthCheck = check
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку бизнес-логики в HTTP-статус. Неожиданные ошибки логируются.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	var vErr *model.ValidationError
	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrValidation):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, model.ErrInvalidState):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, model.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, model.ErrUnavailable):
		h.logger.Warn(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func principal(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	u, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return u, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryFloat(r *http.Request, name string, def float64, required bool) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return 0, model.NewValidationError(name, "is required")
		}
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, model.NewValidationError(name, "must be a number")
	}
	return v, nil
}

// Health сообщает о готовности сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.healthCheck != nil {
		if err := h.healthCheck(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createJobRequest struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Budget      model.Money `json:"budget"`
	Latitude    *float64    `json:"latitude"`
	Longitude   *float64    `json:"longitude"`
}

// CreateJob создаёт заказ от имени текущего клиента.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r)
	if !ok {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		http.Error(w, "latitude and longitude are required", http.StatusBadRequest)
		return
	}

	job, err := h.service.CreateJob(r.Context(), user, service.CreateJobInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Budget:      req.Budget,
		Latitude:    *req.Latitude,
		Longitude:   *req.Longitude,
	})
	if err != nil {
		h.writeError(w, err, "create job error", zap.Int64("userID", user.ID))
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// ListJobs возвращает открытые заказы.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit: must be an integer", http.StatusBadRequest)
			return
		}
		limit = v
	}

	jobs, err := h.service.ListOpenJobs(r.Context(), limit)
	if err != nil {
		h.writeError(w, err, "list jobs error")
		return
	}

	if len(jobs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

// GetJob возвращает заказ по id.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeError(w, err, "get job error", zap.Int64("jobID", jobID))
		return
	}

	writeJSON(w, http.StatusOK, job)
}

type placeBidRequest struct {
	Amount  model.Money `json:"amount"`
	Message string      `json:"message"`
}

// PlaceBid размещает предложение текущего исполнителя по заказу.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	bid, err := h.service.PlaceBid(r.Context(), user, jobID, req.Amount, req.Message)
	if err != nil {
		h.writeError(w, err, "place bid error", zap.Int64("jobID", jobID), zap.Int64("userID", user.ID))
		return
	}

	if h.notifier != nil {
		h.notifier.BidPlaced(r.Context(), *bid)
	}

	writeJSON(w, http.StatusCreated, bid)
}

// GetBids возвращает предложения по заказу в порядке Fair-Play.
func (h *Handler) GetBids(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	bids, err := h.service.GetRankedBids(r.Context(), jobID)
	if err != nil {
		h.writeError(w, err, "get bids error", zap.Int64("jobID", jobID))
		return
	}

	if len(bids) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, bids)
}

// AcceptBid принимает предложение от имени владельца заказа.
func (h *Handler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r)
	if !ok {
		return
	}
	bidID, ok := pathID(w, r, "bidID")
	if !ok {
		return
	}

	bid, err := h.service.AcceptBid(r.Context(), bidID, user)
	if err != nil {
		h.writeError(w, err, "accept bid error", zap.Int64("bidID", bidID), zap.Int64("userID", user.ID))
		return
	}

	if h.notifier != nil {
		h.notifier.BidAccepted(r.Context(), *bid, user.ID)
	}

	writeJSON(w, http.StatusOK, bid)
}

// GetCandidates возвращает исполнителей рядом с точкой заказа.
func (h *Handler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	radius, err := queryFloat(r, "radius", DefaultRadiusMeters, false)
	if err != nil {
		h.writeError(w, err, "get candidates error")
		return
	}

	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeError(w, err, "get candidates error", zap.Int64("jobID", jobID))
		return
	}

	h.writeNearby(w, r, job.Latitude, job.Longitude, radius)
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// UpdateLocation сохраняет текущую координату исполнителя.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r)
	if !ok {
		return
	}
	if user.Role != model.RoleProvider {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		http.Error(w, "latitude and longitude are required", http.StatusBadRequest)
		return
	}

	loc, err := h.geo.UpsertLocation(r.Context(), user.ID, *req.Latitude, *req.Longitude)
	if err != nil {
		h.writeError(w, err, "update location error", zap.Int64("userID", user.ID))
		return
	}

	writeJSON(w, http.StatusOK, loc)
}

// Nearby возвращает исполнителей в радиусе от точки.
func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat", 0, true)
	if err != nil {
		h.writeError(w, err, "nearby error")
		return
	}
	lon, err := queryFloat(r, "lon", 0, true)
	if err != nil {
		h.writeError(w, err, "nearby error")
		return
	}
	radius, err := queryFloat(r, "radius", DefaultRadiusMeters, false)
	if err != nil {
		h.writeError(w, err, "nearby error")
		return
	}

	h.writeNearby(w, r, lat, lon, radius)
}

func (h *Handler) writeNearby(w http.ResponseWriter, r *http.Request, lat, lon, radius float64) {
	providers, err := h.geo.FindNearby(r.Context(), lat, lon, radius)
	if err != nil {
		h.writeError(w, err, "find nearby error", zap.Float64("lat", lat), zap.Float64("lon", lon))
		return
	}

	if len(providers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, providers)
}
