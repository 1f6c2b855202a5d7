package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// ShortHashLength is the number of hex characters kept by InputHash.
const ShortHashLength = 8

// Sum returns the hex sha256 of the JSON encoding of value. Map keys are
// encoded in sorted order, so equal inputs hash equally.
func Sum(value any) (string, error) {
	data, err := canonical(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// InputHash returns the short traceability hash of generation inputs and logs on failure.
func InputHash(logger *zap.Logger, value any) string {
	return hashWithLogger(logger, "input", func() (string, error) {
		full, err := Sum(value)
		if err != nil {
			return "", err
		}
		return full[:ShortHashLength], nil
	})
}

func canonical(value any) ([]byte, error) {
	switch typed := value.(type) {
	case []byte:
		return typed, nil
	case string:
		return []byte(typed), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	// Round trip through a generic value so struct inputs hash like their map form.
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func hashWithLogger(logger *zap.Logger, label string, fn func() (string, error)) string {
	etag, err := fn()
	if err != nil {
		if logger != nil {
			logger.Warn(fmt.Sprintf("%s hash failed", label), zap.Error(err))
		}
		return ""
	}
	return etag
}
