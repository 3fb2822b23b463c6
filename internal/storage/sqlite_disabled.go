//go:build !sqlite
// +build !sqlite

package storage

import (
	"fmt"

	"atcwatch/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, fmt.Errorf("%w: sqlite driver not built (use -tags sqlite)", ErrDisabled)
}
