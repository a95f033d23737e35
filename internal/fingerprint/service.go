package fingerprint

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingDeriver  = errors.New("deriver is required")
)

// ServiceConfig describes the dependencies for the fingerprint service.
type ServiceConfig struct {
	Database *gorm.DB
	Deriver  *Deriver
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service issues fingerprint tokens and seals signature envelopes.
type Service struct {
	db      *gorm.DB
	deriver *Deriver
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService constructs the fingerprint service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Deriver == nil {
		return nil, errMissingDeriver
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
		db:      cfg.Database,
		deriver: cfg.Deriver,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Token is the response to a token creation: everything a holder needs to
// re-derive the fingerprint independently.
type Token struct {
	TokenID    string `json:"token_id"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
	KeyLength  int    `json:"key_length"`
	Derived    string `json:"derived"`
}

// CreateToken mints a random token, derives its fingerprint and persists the
// derived value as the record key.
func (s *Service) CreateToken(ctx context.Context) (Token, error) {
	tokenID, err := s.deriver.NewSalt()
	if err != nil {
		return Token{}, err
	}
	salt, err := s.deriver.NewSalt()
	if err != nil {
		return Token{}, err
	}

	derived := s.deriver.DeriveHex(tokenID, salt)
	record := Record{ID: derived, IngestedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Token{}, err
	}

	params := s.deriver.Params()
	return Token{
		TokenID:    hex.EncodeToString(tokenID),
		Salt:       hex.EncodeToString(salt),
		Iterations: params.Iterations,
		KeyLength:  params.KeyLength,
		Derived:    derived,
	}, nil
}

// Envelope carries the signer, client and contract details sealed into a
// signature fingerprint.
type Envelope struct {
	ClientIP     string    `json:"client_ip"`
	UserAgent    string    `json:"user_agent"`
	Timestamp    time.Time `json:"timestamp"`
	FullName     string    `json:"full_name"`
	LastFourSSN  string    `json:"last_four_ssn"`
	BirthDate    string    `json:"birth_date"`
	ContractHash string    `json:"contract_hash"`
}

// SealedEnvelope is the derivation output returned to the signer.
type SealedEnvelope struct {
	Plain      string `json:"plain"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
	KeyLength  int    `json:"key_length"`
	Derived    string `json:"derived"`
}

// SealEnvelope serializes the envelope and derives its salted fingerprint.
// Nothing is persisted; the sealed output is the signer's evidence.
func (s *Service) SealEnvelope(envelope Envelope) (SealedEnvelope, error) {
	plain, err := json.Marshal(envelope)
	if err != nil {
		return SealedEnvelope{}, err
	}

	salt, err := s.deriver.NewSalt()
	if err != nil {
		return SealedEnvelope{}, err
	}

	params := s.deriver.Params()
	return SealedEnvelope{
		Plain:      string(plain),
		Salt:       hex.EncodeToString(salt),
		Iterations: params.Iterations,
		KeyLength:  params.KeyLength,
		Derived:    s.deriver.DeriveHex(plain, salt),
	}, nil
}
