// Package seed загружает локальную проекцию пользователей из YAML-файла.
package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/fairmatch/internal/model"
)

// UserStore сохраняет пользователей проекции.
type UserStore interface {
	UpsertUser(ctx context.Context, u model.User) error
}

// File описывает формат файла начальных данных.
type File struct {
	Users []model.User `yaml:"users"`
}

// Parse разбирает YAML и проверяет записи пользователей.
func Parse(data []byte) ([]model.User, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	seen := make(map[int64]struct{}, len(f.Users))
	for i, u := range f.Users {
		if u.ID <= 0 {
			return nil, fmt.Errorf("user #%d: id must be positive", i)
		}
		if _, ok := seen[u.ID]; ok {
			return nil, fmt.Errorf("user %d: duplicate id", u.ID)
		}
		seen[u.ID] = struct{}{}

		if u.Role != model.RoleCustomer && u.Role != model.RoleProvider {
			return nil, fmt.Errorf("user %d: unknown role %q", u.ID, u.Role)
		}
		if u.FairnessScore < 0 {
			return nil, fmt.Errorf("user %d: fairness score must not be negative", u.ID)
		}
	}

	return f.Users, nil
}

// LoadFile читает файл path и сохраняет пользователей в store.
// Пользователи без даты регистрации получают текущее время.
func LoadFile(ctx context.Context, path string, store UserStore) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	users, err := Parse(data)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for _, u := range users {
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		if err := store.UpsertUser(ctx, u); err != nil {
			return 0, fmt.Errorf("upsert user %d: %w", u.ID, err)
		}
	}

	return len(users), nil
}
