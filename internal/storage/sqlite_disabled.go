//go:build !sqlite
// +build !sqlite

package storage

import (
	"context"
	"errors"

	"tickwheel/pkg/logx"
)

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	_, _, _ = ctx, cfg, log
	return nil, errors.New("sqlite storage not built: build with -tags sqlite")
}
