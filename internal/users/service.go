package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/indubia/notary/backend/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidProfile indicates the identity provider returned no usable email.
	ErrInvalidProfile = errors.New("users: invalid profile")
	// ErrProfileFetchFailed indicates the userinfo endpoint rejected the request.
	ErrProfileFetchFailed = errors.New("users: profile fetch failed")
)

// Profile is the subset of identity-provider userinfo the backend consumes.
type Profile struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ServiceConfig describes the dependencies for user resolution.
type ServiceConfig struct {
	Database    *gorm.DB
	UserinfoURL string
	HTTPClient  *http.Client
	IDProvider  documents.IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service resolves the calling user: profile lookup against the external
// identity provider, backed by a local user row keyed by email.
type Service struct {
	db          *gorm.DB
	userinfoURL string
	httpClient  *http.Client
	idProvider  documents.IDProvider
	clock       func() time.Time
	logger      *zap.Logger
	cache       sync.Map
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if strings.TrimSpace(cfg.UserinfoURL) == "" {
		return nil, fmt.Errorf("users: userinfo url required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		db:          cfg.Database,
		userinfoURL: strings.TrimSpace(cfg.UserinfoURL),
		httpClient:  httpClient,
		idProvider:  cfg.IDProvider,
		clock:       clock,
		logger:      logger,
	}, nil
}

// FetchProfile retrieves the caller's profile from the identity provider's
// userinfo endpoint using their access token.
func (s *Service) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userinfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, err := s.httpClient.Do(request)
	if err != nil {
		return Profile{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: status %d", ErrProfileFetchFailed, response.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(response.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	if strings.TrimSpace(profile.Email) == "" {
		return Profile{}, ErrInvalidProfile
	}
	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))
	return profile, nil
}

// ResolveUser fetches the caller's profile and returns the local user row for
// it, creating the row on first sight. Resolved email-to-id mappings are
// cached for the process lifetime.
func (s *Service) ResolveUser(ctx context.Context, accessToken string) (documents.User, error) {
	profile, err := s.FetchProfile(ctx, accessToken)
	if err != nil {
		return documents.User{}, err
	}

	if cached, ok := s.cache.Load(profile.Email); ok {
		if user, ok := cached.(documents.User); ok {
			return user, nil
		}
	}

	var user documents.User
	err = s.db.WithContext(ctx).Where("email = ?", profile.Email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, idErr := s.idProvider.NewID()
		if idErr != nil {
			return documents.User{}, idErr
		}
		user = documents.User{
			ID:        id,
			Email:     profile.Email,
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
		}
		if createErr := s.db.WithContext(ctx).Create(&user).Error; createErr != nil {
			return documents.User{}, createErr
		}
		s.logger.Info("user created", zap.String("email", profile.Email))
	} else if err != nil {
		return documents.User{}, err
	}

	s.cache.Store(profile.Email, user)
	return user, nil
}
