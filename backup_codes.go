package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// backupCodeAlphabet avoids characters users confuse when reading a
// printed sheet (no 0/O, 1/I/L).
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newBackupCode(length int) (string, error) {
	var sb strings.Builder
	sb.Grow(length)
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate backup code: %w", err)
		}
		sb.WriteByte(backupCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// formatBackupCode inserts a mid dash for readability. The dash is
// cosmetic; canonicalizeBackupCode strips it on entry.
func formatBackupCode(code string) string {
	if len(code) < 2 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

func canonicalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// generateBackupCodes returns the formatted plaintext codes for display
// alongside their hashes for storage. Plaintext is never persisted.
func (e *Engine) generateBackupCodes() (plain []string, hashes []string, err error) {
	count := e.config.BackupCodes.Count
	length := e.config.BackupCodes.Length

	plain = make([]string, 0, count)
	hashes = make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := newBackupCode(length)
		if err != nil {
			return nil, nil, err
		}
		hash, err := e.passwordHash.Hash(code)
		if err != nil {
			return nil, nil, err
		}
		plain = append(plain, formatBackupCode(code))
		hashes = append(hashes, hash)
	}
	return plain, hashes, nil
}

// consumeBackupCode redeems one backup code for accountID. The
// per-account lock plus a re-read make the redemption exactly-once even
// when the same code arrives concurrently. A failed persistence write
// means the code was NOT consumed.
func (e *Engine) consumeBackupCode(ctx context.Context, accountID, code string) (bool, error) {
	candidate := canonicalizeBackupCode(code)
	if candidate == "" {
		return false, nil
	}

	unlock := e.accountLocks.lock(accountID)
	defer unlock()

	acct, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	matched := -1
	for i, hash := range acct.BackupCodeHashes {
		ok, err := e.passwordHash.Verify(candidate, hash)
		if err != nil {
			continue
		}
		if ok {
			matched = i
			break
		}
	}
	if matched < 0 {
		return false, nil
	}

	remaining := make([]string, 0, len(acct.BackupCodeHashes)-1)
	remaining = append(remaining, acct.BackupCodeHashes[:matched]...)
	remaining = append(remaining, acct.BackupCodeHashes[matched+1:]...)

	if err := e.accounts.ReplaceBackupCodes(ctx, accountID, remaining); err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return true, nil
}
