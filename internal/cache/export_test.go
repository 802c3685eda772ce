package cache

import (
	"github.com/google/uuid"

	"hftcore/internal/model"
)

var (
	traderForTest   = model.MustTraderID("TRADER-001")
	instanceForTest = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
)
