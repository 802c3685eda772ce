package ops

import (
	"fmt"

	"github.com/yanun0323/logs"

	"hftcore/internal/cache"
	"hftcore/pkg/exception"
)

// OpenDatabase opens the cache backend the config names. A memory backend
// returns a nil database.
func (l Loaded) OpenDatabase() (cache.Database, error) {
	var (
		store cache.Store
		err   error
	)
	switch l.Database.Type {
	case "", DatabaseMemory:
		return nil, nil
	case DatabasePebble:
		store, err = cache.OpenPebbleStore(l.Database.Path)
	case DatabasePostgres:
		store, err = cache.OpenSQLStore(l.Database.Postgres)
	default:
		return nil, fmt.Errorf("%w: database type %q", exception.ErrInvalidArgument, l.Database.Type)
	}
	if err != nil {
		return nil, err
	}
	logs.Infof("[Ops] cache database: %s, buffer interval: %dms", l.Database.Type, l.Core.Cache.BufferIntervalMs)
	return cache.NewKVDatabase(store, l.Core.Cache, l.Core.TraderID, l.Core.InstanceID), nil
}
