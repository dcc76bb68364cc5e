package domain

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

const (
	MemoTypeNone   = "none"
	MemoTypeText   = "text"
	MemoTypeID     = "id"
	MemoTypeHash   = "hash"
	MemoTypeReturn = "return"

	maxTextMemoBytes = 28
	hashMemoBytes    = 32
)

// ValidateMemo checks that memo is a well-formed value of memoType.
// An empty memoType is treated as none.
func ValidateMemo(memo, memoType string) error {
	switch memoType {
	case "", MemoTypeNone:
		if memo != "" {
			return fmt.Errorf("memo must be empty when memo_type is none")
		}
	case MemoTypeText:
		if len(memo) > maxTextMemoBytes {
			return fmt.Errorf("text memo must be at most %d bytes", maxTextMemoBytes)
		}
	case MemoTypeID:
		if _, err := strconv.ParseUint(memo, 10, 64); err != nil {
			return fmt.Errorf("invalid memo %s of type:id", memo)
		}
	case MemoTypeHash:
		raw, err := base64.StdEncoding.DecodeString(memo)
		if err != nil || len(raw) != hashMemoBytes {
			return fmt.Errorf("invalid memo %s of type:hash", memo)
		}
	case MemoTypeReturn:
		return fmt.Errorf("unsupported memo type: %s", memoType)
	default:
		return fmt.Errorf("invalid memo type: %s", memoType)
	}
	return nil
}

// HasMemo reports whether memo/memoType describe an actual memo.
func HasMemo(memo, memoType string) bool {
	return memo != "" && memoType != "" && memoType != MemoTypeNone
}
