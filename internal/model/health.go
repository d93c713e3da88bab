package model

// HealthStatus represents the health state of a ledger node
type HealthStatus struct {
	NodeID    string        `json:"node_id"`
	Status    NodeStatus    `json:"status"`
	Timestamp int64         `json:"timestamp"`
	Metrics   HealthMetrics `json:"metrics"`
}

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// CheckStatus is the outcome of a single health check
type CheckStatus string

const (
	CheckHealthy  CheckStatus = "healthy"
	CheckWarning  CheckStatus = "warning"
	CheckCritical CheckStatus = "critical"
)

// HealthMetrics contains the figures gathered while checking
type HealthMetrics struct {
	DiskUsage   float64 `json:"disk_usage_percent"`
	ChainLength uint32  `json:"chain_length"`
	HasHead     bool    `json:"has_head"`
}
