package handlers

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/models"
)

// UserStore is the account storage the auth routes need.
type UserStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// SignupRequest defines the expected JSON body for signup
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest defines the expected JSON body for login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse defines the JSON response for successful auth
type AuthResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	IssuedAt time.Time    `json:"issued_at"`
}

// AuthHandler serves signup, login and the current-user route.
type AuthHandler struct {
	users  UserStore
	tokens *auth.TokenIssuer
	log    *zap.Logger
}

func NewAuthHandler(users UserStore, tokens *auth.TokenIssuer, log *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, log: log}
}

// Signup handles user registration.
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	req := new(SignupRequest)
	if err := c.BodyParser(req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Cannot parse request body")
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" || req.Email == "" {
		return fail(c, fiber.StatusBadRequest, "Username, email and password are required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid email address")
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error("hash password", zap.String("username", req.Username), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to process password")
	}

	ctx := c.UserContext()
	newUser, err := h.users.CreateUser(ctx, req.Username, req.Email, hashedPassword)
	if errors.Is(err, database.ErrUserExists) {
		return fail(c, fiber.StatusConflict, "User already exists")
	}
	if err != nil {
		h.log.Error("create user", zap.String("username", req.Username), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to create user")
	}

	token, err := h.tokens.Generate(newUser.ID, newUser.Username)
	if err != nil {
		// User was created, but token failed - they can still log in.
		h.log.Error("generate token", zap.String("username", newUser.Username), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "User created, but failed to generate token")
	}
	h.log.Info("user signed up", zap.String("user_id", newUser.ID), zap.String("username", newUser.Username))

	return c.Status(fiber.StatusCreated).JSON(AuthResponse{
		Token:    token,
		User:     newUser,
		IssuedAt: time.Now().UTC(),
	})
}

// Login handles user authentication.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	req := new(LoginRequest)
	if err := c.BodyParser(req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Cannot parse request body")
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return fail(c, fiber.StatusBadRequest, "Username and password cannot be empty")
	}

	user, err := h.users.GetUserByUsername(c.UserContext(), strings.TrimSpace(req.Username))
	if err != nil {
		h.log.Error("find user", zap.String("username", req.Username), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Database error finding user")
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.Password) {
		return fail(c, fiber.StatusUnauthorized, "Invalid username or password")
	}

	token, err := h.tokens.Generate(user.ID, user.Username)
	if err != nil {
		h.log.Error("generate token", zap.String("username", user.Username), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to generate token")
	}

	return c.JSON(AuthResponse{
		Token:    token,
		User:     user,
		IssuedAt: time.Now().UTC(),
	})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, err := h.users.GetUserByID(c.UserContext(), middleware.UserID(c))
	if err != nil {
		h.log.Error("find user", zap.String("user_id", middleware.UserID(c)), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Database error finding user")
	}
	if user == nil {
		return fail(c, fiber.StatusNotFound, "User not found")
	}
	return c.JSON(fiber.Map{"success": true, "user": user})
}
