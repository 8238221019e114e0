package redisx

import "time"

const (
	// idem:order:create:{user_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%d:%s"

	// order_status:{order_id} -> {"status": "...", "eta": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%d"

	// vendor_queue:{vendor_id} -> zset of live order ids scored by creation time
	KeyVendorQueue = "vendor_queue:%d"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
