package redisx

import "time"

const (
	// Last value per channel key: {namespace}:stock:{key} -> envelope JSON
	KeyStockChange = "%s:stock:%s"

	// Pub/sub channel carrying every write: {namespace}:stock:changes
	KeyStockNotify = "%s:stock:changes"
)

var (
	TTLStockChange = 24 * time.Hour
)
