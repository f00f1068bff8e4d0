package api

import (
	"errors"
	"fmt"
	"net/http"

	"modelhub-backend/internal/auth"
	"modelhub-backend/internal/database"
	"modelhub-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *BackendService) Signup(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SignupRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "username, email, and password are required")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error hashing password: %w", err))
	}

	user := database.User{
		Id:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	}

	if err := s.db.WithContext(r.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, CodedErrorf(http.StatusConflict, "username or email is already taken")
		}
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error creating user: %w", err))
	}

	token, err := s.tokens.IssueToken(user.Id)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error issuing token: %w", err))
	}

	return api.AuthResponse{UserId: user.Id, Token: token}, nil
}

func (s *BackendService) Login(r *http.Request) (any, error) {
	req, err := ParseRequest[api.LoginRequest](r)
	if err != nil {
		return nil, err
	}

	var user database.User
	if err := s.db.WithContext(r.Context()).First(&user, "email = ?", req.Email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusUnauthorized, "invalid email or password")
		}
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error looking up user: %w", err))
	}

	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		return nil, CodedErrorf(http.StatusUnauthorized, "invalid email or password")
	}

	token, err := s.tokens.IssueToken(user.Id)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error issuing token: %w", err))
	}

	return api.AuthResponse{UserId: user.Id, Token: token}, nil
}
