// Package auth signs users in and out of a local session.
package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/bunnychat/internal/api"
	"github.com/matheus3301/bunnychat/internal/logging"
	"github.com/matheus3301/bunnychat/internal/status"
)

// ErrSignedOut is returned when an operation needs a signed-in user.
var ErrSignedOut = errors.New("not signed in")

// RejectedError is a sign-in or sign-up the server refused.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "rejected by server"
	}
	return "rejected by server: " + e.Message
}

// AccountAPI is the part of the chat API that manages accounts.
type AccountAPI interface {
	SignIn(ctx context.Context, mobile, password string) (api.SignInResult, error)
	SignUp(ctx context.Context, req api.SignUpRequest) (api.Result, error)
}

// UserStore persists the signed-in user. *session.Store implements it.
type UserStore interface {
	Load(ctx context.Context) (api.User, bool, error)
	Save(ctx context.Context, u api.User) error
	Clear(ctx context.Context) error
}

// Service drives the session state machine from account operations.
type Service struct {
	client  AccountAPI
	store   UserStore
	machine *status.Machine
	logger  *zap.Logger
}

// NewService creates a Service. logger may be nil.
func NewService(client AccountAPI, store UserStore, machine *status.Machine, logger *zap.Logger) *Service {
	return &Service{client: client, store: store, machine: machine, logger: logging.OrNop(logger)}
}

// State returns the current session state.
func (s *Service) State() status.State {
	return s.machine.Current()
}

// Restore moves a booting session to SIGNED_IN when a user is stored and to
// SIGNED_OUT otherwise. A store failure moves it to ERROR.
func (s *Service) Restore(ctx context.Context) error {
	if s.machine.Current() == status.Error {
		if err := s.machine.Transition(status.Booting); err != nil {
			return err
		}
	}
	u, ok, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Error("failed to load stored user", zap.Error(err))
		_ = s.machine.Transition(status.Error)
		return fmt.Errorf("restore session: %w", err)
	}
	if !ok {
		return s.machine.Transition(status.SignedOut)
	}
	s.logger.Info("session restored", zap.Int64("user_id", u.ID))
	return s.machine.Transition(status.SignedIn)
}

// SignIn exchanges credentials for a user and stores it. A stored user that
// cannot be read is discarded first. A refusal is a *RejectedError and
// leaves the session signed out.
func (s *Service) SignIn(ctx context.Context, mobile, password string) (api.User, error) {
	if cur := s.machine.Current(); cur == status.Booting || cur == status.Error {
		if err := s.Restore(ctx); err != nil {
			s.logger.Warn("discarding unreadable stored user", zap.Error(err))
			if err := s.Logout(ctx); err != nil {
				return api.User{}, fmt.Errorf("sign in: %w", err)
			}
		}
	}
	if s.machine.Current() == status.SignedIn {
		if err := s.Logout(ctx); err != nil {
			return api.User{}, err
		}
	}
	if err := s.machine.Transition(status.SigningIn); err != nil {
		return api.User{}, fmt.Errorf("sign in: %w", err)
	}

	res, err := s.client.SignIn(ctx, mobile, password)
	if err != nil {
		_ = s.machine.Transition(status.SignedOut)
		return api.User{}, fmt.Errorf("sign in: %w", err)
	}
	if !res.Success {
		_ = s.machine.Transition(status.SignedOut)
		s.logger.Info("sign in rejected", zap.String("reason", res.Message))
		return api.User{}, &RejectedError{Message: res.Message}
	}

	if err := s.store.Save(ctx, *res.User); err != nil {
		_ = s.machine.Transition(status.Error)
		return api.User{}, fmt.Errorf("save user: %w", err)
	}
	if err := s.machine.Transition(status.SignedIn); err != nil {
		return api.User{}, err
	}
	s.logger.Info("signed in", zap.Int64("user_id", res.User.ID))
	return *res.User, nil
}

// SignUp registers a new account and returns the server's message. It does
// not sign in.
func (s *Service) SignUp(ctx context.Context, req api.SignUpRequest) (string, error) {
	res, err := s.client.SignUp(ctx, req)
	if err != nil {
		return "", fmt.Errorf("sign up: %w", err)
	}
	if !res.Success {
		return "", &RejectedError{Message: res.Message}
	}
	s.logger.Info("signed up", zap.String("mobile", req.Mobile))
	return res.Message, nil
}

// Logout forgets the stored user.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if s.machine.Current() == status.Error {
		if err := s.machine.Transition(status.Booting); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	if s.machine.Current() != status.SignedOut {
		if err := s.machine.Transition(status.SignedOut); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	s.logger.Info("signed out")
	return nil
}

// CurrentUser returns the stored user, or ErrSignedOut.
func (s *Service) CurrentUser(ctx context.Context) (api.User, error) {
	u, ok, err := s.store.Load(ctx)
	if err != nil {
		return api.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return api.User{}, ErrSignedOut
	}
	return u, nil
}
