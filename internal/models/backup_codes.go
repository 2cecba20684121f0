package models

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
)

// GenerateBackupCodes replaces the backup code set with count fresh codes of the given
// number of digits and returns them in generation order for one-time display.
// A nil reader uses crypto/rand. Collisions are retried until count unique codes exist.
func (s *TOTPState) GenerateBackupCodes(r io.Reader, count, digits int) ([]string, error) {
	if r == nil {
		r = rand.Reader
	}
	if count <= 0 || count > MaxBackupCodes {
		count = MaxBackupCodes
	}
	if digits < 1 || digits > 18 {
		return nil, fmt.Errorf("backup code digits must be between 1 and 18, got %d", digits)
	}

	lowest := pow10(digits - 1)
	if pow10(digits)-lowest < int64(count) {
		return nil, fmt.Errorf("%d-digit codes cannot yield %d unique values", digits, count)
	}
	span := big.NewInt(pow10(digits) - lowest)

	s.ClearBackupCodes()
	codes := make([]string, 0, count)
	for len(codes) < count {
		n, err := rand.Int(r, span)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}

		code := strconv.FormatInt(lowest+n.Int64(), 10)
		if s.AddBackupCode(code) {
			codes = append(codes, code)
		}
	}

	return codes, nil
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
