// Package security is MARTIN's credential vault and arming gate: live
// order placement stays disarmed until an operator presents a fresh TOTP
// code, and the venue API credentials it signs with never touch disk or
// the settings table unencrypted.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"martin/internal/apperr"
	"martin/internal/clock"
	"martin/internal/config"
	"martin/internal/store"
)

const (
	settingKeyCredentials = "security.credentials_sealed"
	settingKeyTOTPSecret  = "security.totp_secret_sealed"
)

// Credentials is the venue API key pair LiveClient signs requests with.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Service is the execution.Armer implementation: it decrypts stored
// credentials on demand and tracks whether a recent TOTP code has armed
// live trading.
type Service struct {
	db  *store.DB
	key [32]byte
	clk clock.Clock

	issuer  string
	account string
	armTTL  time.Duration

	mu         sync.Mutex
	armedUntil time.Time
}

// New derives the vault's symmetric key from cfg.MasterKey (any length —
// sha256'd down to 32 bytes, matching secretbox's key size) and returns a
// Service ready to seal/open credentials and the TOTP secret. An empty
// MasterKey is only valid in paper mode; callers in live mode must reject
// that at config-validation time, not here.
func New(db *store.DB, cfg config.SecurityConfig, clk clock.Clock) *Service {
	return &Service{
		db:      db,
		key:     sha256.Sum256([]byte(cfg.MasterKey)),
		clk:     clk,
		issuer:  cfg.TOTPIssuer,
		account: cfg.TOTPAccount,
		armTTL:  time.Duration(cfg.ArmTTLSeconds) * time.Second,
	}
}

func (s *Service) seal(plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", apperr.Security("generate nonce", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Service) open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.Security("decode sealed value", err)
	}
	if len(raw) < 24 {
		return nil, apperr.Security("sealed value too short", nil)
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return nil, apperr.Security("decrypt sealed value: wrong master key or corrupt data", nil)
	}
	return plaintext, nil
}

// StoreCredentials seals apiKey/apiSecret with the vault key and persists
// them to the settings table, overwriting any prior value.
func (s *Service) StoreCredentials(apiKey, apiSecret string) error {
	plaintext := apiKey + "\x00" + apiSecret
	sealed, err := s.seal([]byte(plaintext))
	if err != nil {
		return err
	}
	return s.db.Settings.Set(settingKeyCredentials, sealed)
}

// LoadCredentials opens the sealed credentials. Returns a SecurityError if
// none are stored or the master key cannot decrypt them.
func (s *Service) LoadCredentials() (Credentials, error) {
	sealed, ok, err := s.db.Settings.Get(settingKeyCredentials)
	if err != nil {
		return Credentials{}, err
	}
	if !ok {
		return Credentials{}, apperr.Security("no credentials stored", nil)
	}
	plaintext, err := s.open(sealed)
	if err != nil {
		return Credentials{}, err
	}
	for i, b := range plaintext {
		if b == 0 {
			return Credentials{APIKey: string(plaintext[:i]), APISecret: string(plaintext[i+1:])}, nil
		}
	}
	return Credentials{}, apperr.Security("malformed stored credentials", nil)
}

// EnrollTOTP generates a fresh TOTP secret, seals and persists it, and
// returns the otpauth:// URL an operator scans into an authenticator app.
// Calling it again replaces the previous secret.
func (s *Service) EnrollTOTP() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.issuer, AccountName: s.account})
	if err != nil {
		return "", apperr.Security("generate totp secret", err)
	}
	sealed, err := s.seal([]byte(key.Secret()))
	if err != nil {
		return "", err
	}
	if err := s.db.Settings.Set(settingKeyTOTPSecret, sealed); err != nil {
		return "", err
	}
	return key.URL(), nil
}

func (s *Service) totpSecret() (string, error) {
	sealed, ok, err := s.db.Settings.Get(settingKeyTOTPSecret)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.Security("no totp secret enrolled", nil)
	}
	plaintext, err := s.open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Arm validates code against the enrolled TOTP secret and, on success,
// keeps live execution armed for arm_ttl_seconds from now.
func (s *Service) Arm(code string) error {
	secret, err := s.totpSecret()
	if err != nil {
		return err
	}
	valid, err := totp.ValidateCustom(code, secret, s.clk.Now(), totp.ValidateOpts{
		Period: 30, Skew: 1, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return apperr.Security("validate totp code", err)
	}
	if !valid {
		return apperr.Security("invalid or expired totp code", nil)
	}
	s.mu.Lock()
	s.armedUntil = s.clk.Now().Add(s.armTTL)
	s.mu.Unlock()
	return nil
}

// Disarm immediately revokes arming, regardless of remaining TTL.
func (s *Service) Disarm() {
	s.mu.Lock()
	s.armedUntil = time.Time{}
	s.mu.Unlock()
}

// Armed implements execution.Armer.
func (s *Service) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clk.Now().Before(s.armedUntil)
}
