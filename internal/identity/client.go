// Package identity предоставляет клиент для внешней системы учётных записей.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/fairmatch/internal/model"
)

var (
	// ErrUserNotFound возвращается, если система учётных записей не знает пользователя.
	ErrUserNotFound = fmt.Errorf("identity: user %w", model.ErrNotFound)
	// ErrNotConfigured возвращается при вызове клиента без адреса.
	ErrNotConfigured = errors.New("identity client not configured")
)

// RateLimitedError возвращается при ответе 429. RetryAfter равен нулю, если заголовок не пришёл.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("identity: too many requests, retry after %s", e.RetryAfter)
}

// Unwrap позволяет обрабатывать ограничение частоты как недоступность зависимости.
func (e *RateLimitedError) Unwrap() error { return model.ErrUnavailable }

// Client инкапсулирует HTTP-взаимодействие с системой учётных записей.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Profile описывает ответ системы учётных записей по одному пользователю.
type Profile struct {
	ID            int64     `json:"id"`
	Role          string    `json:"role"`
	FairnessScore float64   `json:"fairness_score"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewClient создаёт HTTP-клиент для обращения к системе учётных записей по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetUser запрашивает профиль пользователя: роль, рейтинг и дату регистрации.
func (c *Client) GetUser(ctx context.Context, id int64) (*model.User, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/users/%d", base, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: identity request: %w", model.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrUserNotFound
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	role := model.Role(p.Role)
	if role != model.RoleCustomer && role != model.RoleProvider {
		return nil, fmt.Errorf("unknown role %q for user %d", p.Role, id)
	}
	if p.FairnessScore < 0 || math.IsNaN(p.FairnessScore) || math.IsInf(p.FairnessScore, 0) {
		return nil, fmt.Errorf("invalid fairness score %v for user %d", p.FairnessScore, id)
	}
	if p.ID != id {
		return nil, fmt.Errorf("profile id %d does not match requested %d", p.ID, id)
	}

	return &model.User{
		ID:            p.ID,
		Role:          role,
		FairnessScore: p.FairnessScore,
		CreatedAt:     p.CreatedAt,
	}, nil
}
