package service

import (
	"context"
	"fmt"
	"strings"

	"duotime/internal/repository"

	"go.uber.org/zap"
)

type UserService struct {
	users  *repository.UserRepository
	logger *zap.Logger
}

func NewUserService(users *repository.UserRepository, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, logger: logger}
}

// RegisterPushToken stores the device's Expo token; an empty token clears
// it. The token is encrypted at rest.
func (s *UserService) RegisterPushToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	var p *string
	if token != "" {
		if !strings.HasPrefix(token, "ExponentPushToken[") && !strings.HasPrefix(token, "ExpoPushToken[") {
			return fmt.Errorf("%w: not an Expo push token", ErrInvalidInput)
		}
		p = &token
	}
	if err := s.users.SetPushToken(ctx, userID, p); err != nil {
		return err
	}
	s.logger.Info("Push token updated", zap.String("user_id", userID), zap.Bool("cleared", p == nil))
	return nil
}
