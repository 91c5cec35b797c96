package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dhr/workerauth/internal/models"
)

type MemoryUserRepository struct {
	mu      sync.RWMutex
	byPhone map[string]models.UserProfile
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byPhone: make(map[string]models.UserProfile)}
}

func (r *MemoryUserRepository) FindByPhone(_ context.Context, phone string) (*models.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byPhone[phone]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *MemoryUserRepository) Create(_ context.Context, user *models.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPhone[user.Phone]; ok {
		return ErrUserExists
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = models.RoleWorker
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.byPhone[user.Phone] = *user
	return nil
}

// ParseUserSeed parses "phone:name,phone:name" into worker profiles. A bare
// phone without a name is accepted.
func ParseUserSeed(seed string) ([]models.UserProfile, error) {
	var users []models.UserProfile
	for _, entry := range strings.Split(seed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		phone, name, _ := strings.Cut(entry, ":")
		phone = strings.TrimSpace(phone)
		if !strings.HasPrefix(phone, "+") {
			return nil, fmt.Errorf("seed phone %q must be in E.164 format", phone)
		}
		users = append(users, models.UserProfile{
			Phone: phone,
			Name:  strings.TrimSpace(name),
			Role:  models.RoleWorker,
		})
	}
	return users, nil
}
