package types

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// TierStats groups statistics for both tiers of a namespace.
type TierStats struct {
	Namespace     string      `json:"namespace"`
	Volatile      CacheStats  `json:"volatile"`
	Persistent    *CacheStats `json:"persistent,omitempty"`
	Pending       int         `json:"pending"`
	Fetches       uint64      `json:"fetches"`
	Revalidations uint64      `json:"revalidations"`
}
