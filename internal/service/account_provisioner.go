package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
)

// SecretHashCost is the bcrypt cost for passwords and student PINs.
const SecretHashCost = 12

type accountRepository interface {
	FindByEmail(ctx context.Context, q database.Queryer, email string) (*models.User, error)
	UsernameExists(ctx context.Context, q database.Queryer, username string) (bool, error)
	Create(ctx context.Context, q database.Queryer, user *models.User) error
}

// AccountData describes a login-capable account keyed by email.
type AccountData struct {
	Email              string
	FullName           string
	Secret             string
	Role               models.UserRole
	MustChangePassword bool
}

// StudentAccountData describes a student account that logs in with a PIN.
type StudentAccountData struct {
	FullName string
	PIN      string
}

// AccountProvisioner creates guardian and student accounts inside the
// caller's transaction.
type AccountProvisioner struct {
	repo   accountRepository
	codes  *CodeGenerator
	hash   func(plain string) (string, error)
	logger *zap.Logger
}

// NewAccountProvisioner constructs the provisioner.
func NewAccountProvisioner(repo accountRepository, codes *CodeGenerator, logger *zap.Logger) *AccountProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if codes == nil {
		codes = NewCodeGenerator()
	}
	return &AccountProvisioner{repo: repo, codes: codes, hash: HashSecret, logger: logger}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EnsureUniqueEmail fails with a conflict when the email is already registered.
func (p *AccountProvisioner) EnsureUniqueEmail(ctx context.Context, q database.Queryer, email string) error {
	_, err := p.repo.FindByEmail(ctx, q, NormalizeEmail(email))
	switch {
	case err == nil:
		return appErrors.Clone(appErrors.ErrConflict, "email already exists")
	case errors.Is(err, sql.ErrNoRows):
		return nil
	default:
		return err
	}
}

// DeriveUsername returns the lower-cased local part of email.
func DeriveUsername(email string) (string, error) {
	local, _, found := strings.Cut(NormalizeEmail(email), "@")
	if !found || local == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "email has no local part")
	}
	return local, nil
}

// HashSecret hashes a password or PIN with bcrypt.
func HashSecret(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), SecretHashCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hashed), nil
}

// Create persists a new email account. Role defaults to GUARDIAN.
func (p *AccountProvisioner) Create(ctx context.Context, q database.Queryer, data AccountData) (*models.User, error) {
	email := NormalizeEmail(data.Email)
	if err := p.EnsureUniqueEmail(ctx, q, email); err != nil {
		return nil, err
	}
	base, err := DeriveUsername(email)
	if err != nil {
		return nil, err
	}
	username, err := p.availableUsername(ctx, q, base)
	if err != nil {
		return nil, err
	}
	hashed, err := p.hash(data.Secret)
	if err != nil {
		return nil, err
	}

	role := data.Role
	if role == "" {
		role = models.RoleGuardian
	}
	user := &models.User{
		Email:              &email,
		Username:           username,
		PasswordHash:       hashed,
		FullName:           strings.TrimSpace(data.FullName),
		Role:               role,
		Active:             true,
		MustChangePassword: data.MustChangePassword,
	}
	if err := p.repo.Create(ctx, q, user); err != nil {
		return nil, err
	}
	p.logger.Info("account created", zap.String("user_id", user.ID), zap.String("role", string(role)))
	return user, nil
}

// FindOrCreate returns the account registered with the email unchanged, or
// creates it. The bool reports whether an account was created.
func (p *AccountProvisioner) FindOrCreate(ctx context.Context, q database.Queryer, data AccountData) (*models.User, bool, error) {
	existing, err := p.repo.FindByEmail(ctx, q, NormalizeEmail(data.Email))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	user, err := p.Create(ctx, q, data)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// CreateStudent persists a student account whose secret is the PIN. The
// username is the accent-free name slug plus a 4 digit suffix.
func (p *AccountProvisioner) CreateStudent(ctx context.Context, q database.Queryer, data StudentAccountData) (*models.User, error) {
	base := Slugify(data.FullName)
	suffix, err := p.codes.GenerateUnique(ctx, "username "+base, func(ctx context.Context, code string) (bool, error) {
		return p.repo.UsernameExists(ctx, q, base+code)
	})
	if err != nil {
		return nil, err
	}
	hashed, err := p.hash(data.PIN)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     base + suffix,
		PasswordHash: hashed,
		FullName:     strings.TrimSpace(data.FullName),
		Role:         models.RoleStudent,
		Active:       true,
	}
	if err := p.repo.Create(ctx, q, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (p *AccountProvisioner) availableUsername(ctx context.Context, q database.Queryer, base string) (string, error) {
	taken, err := p.repo.UsernameExists(ctx, q, base)
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}
	suffix, err := p.codes.GenerateUnique(ctx, "username "+base, func(ctx context.Context, code string) (bool, error) {
		return p.repo.UsernameExists(ctx, q, base+code)
	})
	if err != nil {
		return "", err
	}
	return base + suffix, nil
}

// Slugify lower-cases name, strips accents and joins words with dots.
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, name)
	if err != nil {
		plain = name
	}

	var b strings.Builder
	pendingDot := false
	for _, r := range strings.ToLower(plain) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDot && b.Len() > 0 {
				b.WriteByte('.')
			}
			pendingDot = false
			b.WriteRune(r)
		default:
			pendingDot = true
		}
	}
	if b.Len() == 0 {
		return "alumno"
	}
	return b.String()
}

// GenerateTemporaryPassword returns a random 12 character password.
func GenerateTemporaryPassword() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate temporary password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
