package tg

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	reTxHash = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

	ErrInvalidTxHash = errors.New("invalid tx hash")
)

func IsTxHash(s string) bool {
	s = strings.TrimSpace(s)
	return reTxHash.MatchString(s)
}

// ParseTxHash принимает хэш с 0x и без, в любом регистре.
func ParseTxHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !IsTxHash(s) {
		return common.Hash{}, ErrInvalidTxHash
	}
	return common.HexToHash(s), nil
}
