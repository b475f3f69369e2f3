// Package model содержит доменные сущности сервиса подбора исполнителей.
package model

import "time"

// Role описывает роль пользователя на площадке.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleProvider Role = "PROVIDER"
)

// User представляет аутентифицированного участника площадки.
// FairnessScore поддерживается внешней системой репутации и здесь только читается.
type User struct {
	ID            int64     `json:"id" yaml:"id"`
	Role          Role      `json:"role" yaml:"role"`
	FairnessScore float64   `json:"fairness_score" yaml:"fairness_score"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
}

// Job описывает заказ клиента.
type Job struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	Budget      Money     `json:"budget"`
	Status      JobStatus `json:"status"`
	CustomerID  int64     `json:"customer_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Bid описывает предложение исполнителя по заказу.
type Bid struct {
	ID         int64     `json:"id"`
	JobID      int64     `json:"job_id"`
	ProviderID int64     `json:"provider_id"`
	Amount     Money     `json:"amount"`
	Message    string    `json:"message,omitempty"`
	Accepted   bool      `json:"accepted"`
	CreatedAt  time.Time `json:"created_at"`
}

// BidWithProvider связывает предложение с профилем исполнителя, прочитанным в той же выборке.
type BidWithProvider struct {
	Bid      Bid
	Provider User
}

// RankedBid содержит предложение и его рейтинг в выдаче Fair-Play.
type RankedBid struct {
	Bid
	Score float64 `json:"score"`
}

// ProviderLocation хранит последнюю известную точку исполнителя.
type ProviderLocation struct {
	ProviderID  int64     `json:"provider_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	LastUpdated time.Time `json:"last_updated"`
}

// NearbyProvider описывает исполнителя, найденного в радиусе, и расстояние до него.
type NearbyProvider struct {
	ProviderLocation
	DistanceMeters float64 `json:"distance_meters"`
}
