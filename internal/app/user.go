package app

import (
	"fmt"
	"log/slog"
	"strings"

	"docchat/pkg/domain"
)

const maxInstructionLength = 4000

// OAuthProfile is what the identity provider asserts about a user.
type OAuthProfile struct {
	Subject       string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
}

// EnsureUser upserts a user from an OAuth sign-in: first sign-in creates
// the account with default settings, later ones refresh profile fields.
func (a *App) EnsureUser(profile OAuthProfile) (domain.User, error) {
	if strings.TrimSpace(profile.Subject) == "" || strings.TrimSpace(profile.Email) == "" {
		return domain.User{}, fmt.Errorf("%w: oauth subject and email required", ErrInvalidInput)
	}
	now := a.now()
	user, found, err := a.store.GetUserByOAuthSubject(profile.Subject)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		user = domain.User{
			ID:            a.newID(),
			Email:         profile.Email,
			Name:          profile.Name,
			Picture:       profile.Picture,
			OAuthSubject:  profile.Subject,
			EmailVerified: profile.EmailVerified,
			Tier:          domain.DefaultTier,
			Settings:      domain.DefaultChatSettings(),
			CreatedAt:     now,
		}
		slog.Info("new user", "user_id", user.ID)
	} else {
		user.Email = profile.Email
		if profile.Name != "" {
			user.Name = profile.Name
		}
		if profile.Picture != "" {
			user.Picture = profile.Picture
		}
		user.EmailVerified = profile.EmailVerified
	}
	user.LastLoginAt = now
	user.UpdatedAt = now
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// Profile returns the user's account record.
func (a *App) Profile(userID string) (domain.User, error) {
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

// UpdateProfileName changes the display name.
func (a *App) UpdateProfileName(userID, name string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 200 {
		return domain.User{}, fmt.Errorf("%w: name must be 1-200 characters", ErrInvalidInput)
	}
	user, err := a.Profile(userID)
	if err != nil {
		return domain.User{}, err
	}
	user.Name = name
	user.UpdatedAt = a.now()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// ChatSettings returns the user's chat-mode configuration.
func (a *App) ChatSettings(userID string) (domain.ChatSettings, error) {
	user, err := a.Profile(userID)
	if err != nil {
		return domain.ChatSettings{}, err
	}
	return user.Settings, nil
}

// UpdateChatSettings validates and stores a new chat-mode configuration.
func (a *App) UpdateChatSettings(userID string, settings domain.ChatSettings) (domain.ChatSettings, error) {
	if settings.DefaultMode != domain.ModeLimited && settings.DefaultMode != domain.ModeAuxiliary {
		return domain.ChatSettings{}, fmt.Errorf("%w: defaultMode must be limited or auxiliary", ErrInvalidInput)
	}
	if len(settings.Limited.Instruction) > maxInstructionLength ||
		len(settings.Auxiliary.Instruction) > maxInstructionLength {
		return domain.ChatSettings{}, fmt.Errorf("%w: instruction exceeds %d characters", ErrInvalidInput, maxInstructionLength)
	}
	if !settings.Limited.Enabled && !settings.Auxiliary.Enabled {
		return domain.ChatSettings{}, fmt.Errorf("%w: at least one chat mode must stay enabled", ErrInvalidInput)
	}
	user, err := a.Profile(userID)
	if err != nil {
		return domain.ChatSettings{}, err
	}
	user.Settings = settings
	user.UpdatedAt = a.now()
	if err := a.store.SaveUser(user); err != nil {
		return domain.ChatSettings{}, fmt.Errorf("save user: %w", err)
	}
	return settings, nil
}
