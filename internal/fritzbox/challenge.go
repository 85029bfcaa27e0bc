package fritzbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"golang.org/x/crypto/pbkdf2"
)

const challengeHashLength = sha256.Size

// ComputeChallengeResponse answers a version 2 login challenge of the form
// "2$<iter1>$<salt1>$<iter2>$<salt2>". The result is "<salt2>$<hex(hash2)>"
// where hash1 = PBKDF2-HMAC-SHA256(password, salt1, iter1) and
// hash2 = PBKDF2-HMAC-SHA256(hash1, salt2, iter2).
func ComputeChallengeResponse(challenge, password string) (string, error) {
	fields := strings.Split(challenge, "$")
	if len(fields) != 5 {
		return "", fmerrors.WrapChallengeError(challenge,
			fmt.Errorf("expected 5 '$'-separated fields, got %d", len(fields)))
	}

	iter1, err := parseIterations(fields[1])
	if err != nil {
		return "", fmerrors.WrapChallengeError(challenge, err)
	}
	salt1, err := parseSalt(fields[2])
	if err != nil {
		return "", fmerrors.WrapChallengeError(challenge, err)
	}
	iter2, err := parseIterations(fields[3])
	if err != nil {
		return "", fmerrors.WrapChallengeError(challenge, err)
	}
	salt2, err := parseSalt(fields[4])
	if err != nil {
		return "", fmerrors.WrapChallengeError(challenge, err)
	}

	staticHash := pbkdf2.Key([]byte(password), salt1, iter1, challengeHashLength, sha256.New)
	dynamicHash := pbkdf2.Key(staticHash, salt2, iter2, challengeHashLength, sha256.New)

	return fields[4] + "$" + hex.EncodeToString(dynamicHash), nil
}

func parseIterations(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid iteration count %q", raw)
	}
	return n, nil
}

func parseSalt(raw string) ([]byte, error) {
	salt, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("salt %q is not hex: %w", raw, err)
	}
	return salt, nil
}
