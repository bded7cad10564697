package checkout

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// generateOtp возвращает криптослучайный код фиксированной длины
// с ведущими нулями.
func generateOtp() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < domain.OtpLength; i++ {
		limit.Mul(limit, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", domain.OtpLength, n), nil
}
