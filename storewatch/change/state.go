package change

// State is the externally visible monitor state.
type State struct {
	IsMonitoring   bool   `json:"isMonitoring"`
	StartTime      *int64 `json:"startTime"`      // epoch ms, nil when idle
	ChangeCount    int    `json:"changeCount"`
	LastChangeTime *int64 `json:"lastChangeTime"` // epoch ms of the newest record
}

// TypeDistribution counts values per inferred type.
type TypeDistribution struct {
	String  int `json:"string"`
	Number  int `json:"number"`
	Boolean int `json:"boolean"`
	JSON    int `json:"json"`
	Null    int `json:"null"`
}

// LargestItem names the biggest value by UTF-8 byte size.
type LargestItem struct {
	Key  string `json:"key"`
	Size int    `json:"size"`
}

// QuotaUsage is a display estimate against an assumed capacity.
type QuotaUsage struct {
	Used       int `json:"used"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Stats is derived on demand from a read of the store; never persisted.
type Stats struct {
	TotalItems       int              `json:"totalItems"`
	TotalSize        int              `json:"totalSize"`
	TypeDistribution TypeDistribution `json:"typeDistribution"`
	LargestItem      *LargestItem     `json:"largestItem"`
	QuotaUsage       QuotaUsage       `json:"quotaUsage"`
}
