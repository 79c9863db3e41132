package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"

	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
)

const (
	codeMin         = 1000
	codeSpan        = 9000
	maxCodeAttempts = 10
)

// ExistsFunc reports whether code is already taken in the caller's storage.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// CodeGenerator draws 4 digit numeric codes checked against a uniqueness
// oracle supplied by the caller. It never touches storage itself.
type CodeGenerator struct {
	draw func() (int64, error)
}

// NewCodeGenerator returns a generator backed by crypto/rand.
func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{draw: func() (int64, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
		if err != nil {
			return 0, err
		}
		return n.Int64(), nil
	}}
}

// GenerateUnique returns the first drawn code the oracle reports as free,
// giving up after 10 attempts.
func (g *CodeGenerator) GenerateUnique(ctx context.Context, domain string, exists ExistsFunc) (string, error) {
	return g.generate(ctx, domain, exists)
}

// GenerateMultiple returns count codes that are pairwise distinct and free
// according to the oracle. count must be positive.
func (g *CodeGenerator) GenerateMultiple(ctx context.Context, count int, domain string, exists ExistsFunc) ([]string, error) {
	if count <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("code count for %s must be positive", domain))
	}
	codes := make([]string, 0, count)
	chosen := make(map[string]struct{}, count)
	for len(codes) < count {
		code, err := g.generate(ctx, domain, func(ctx context.Context, code string) (bool, error) {
			if _, dup := chosen[code]; dup {
				return true, nil
			}
			return exists(ctx, code)
		})
		if err != nil {
			return nil, err
		}
		chosen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

func (g *CodeGenerator) generate(ctx context.Context, domain string, taken ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := g.draw()
		if err != nil {
			return "", fmt.Errorf("draw code for %s: %w", domain, err)
		}
		code := strconv.FormatInt(codeMin+n, 10)

		collision, err := taken(ctx, code)
		if err != nil {
			return "", err
		}
		if !collision {
			return code, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrCodeExhausted,
		fmt.Sprintf("could not generate unique code for %s after %d attempts", domain, maxCodeAttempts))
}
