package ctlplane

// Empty is the args/reply type for RPC operations with no payload,
// matching the teacher's net/rpc convention of a shared no-op struct.
type Empty struct{}

// Response is embedded in every reply type: every operation's response
// carries success, message, and error_code, per §6.
type Response struct {
	Success   bool
	Message   string
	ErrorCode string
}

// Rule is the remote-procedure message shape for a firewall rule,
// field-for-field per §6, independent of rulestore.Rule's internal
// *net.IPNet/time.Time representation so the wire contract doesn't leak
// Go-internal types to RPC clients.
type Rule struct {
	ID           string
	Action       string
	SrcIP        string
	DstIP        string
	SrcPort      int32
	DstPort      int32
	Protocol     string
	Direction    string
	Priority     int32
	Enabled      bool
	Description  string
	CreatedAt    int64
	UpdatedAt    int64
	GeoIPCountry string
	RateLimit    int32
	LogLevel     string
	Stateful     bool
}

// Event is the remote-procedure message shape for a pipeline event.
type Event struct {
	ID        string
	Kind      string
	Timestamp int64
	Source    string
	Target    string
	Protocol  string
	Port      int32
	Message   string
	Severity  string
	RuleID    string
	Bytes     int64
	Interface string
	Metadata  map[string]string
}

// InterfaceStatistics is one entry of Statistics.PerInterface.
type InterfaceStatistics struct {
	Interface      string
	TotalPackets   uint64
	TotalBytes     uint64
	DroppedPackets uint64
}

// Statistics is the remote-procedure message shape for a statistics
// fetch, per §6.
type Statistics struct {
	TotalPackets      uint64
	TotalBytes        uint64
	DroppedPackets    uint64
	AllowedPackets    uint64
	RedirectedPackets uint64
	ActiveRules       int32
	ActiveConnections int32
	UptimeSeconds     int64
	CPUUsagePercent   float64
	MemoryUsageBytes  uint64
	ThroughputMbps    float64
	LatencyUs         float64
	PerInterface      []InterfaceStatistics
}

// SystemInfo is returned by the system-info fetch operation.
type SystemInfo struct {
	Version       string
	DefaultPolicy string
	ACLMapPath    string
	SessionMapPath string
	StatsMapPath  string
	MaxRules      int32
	UptimeSeconds int64
}

// --- per-operation Args/Reply types, following the teacher's
// func(args *XArgs, reply *XReply) error net/rpc method shape.

// RequestMeta is embedded in every Args type that performs a mutation
// or may block: DeadlineMS bounds how long the Control Service will
// wait before failing the request with DeadlineExceeded, per §5
// ("every Control Service request carries a deadline"). Zero means no
// deadline.
type RequestMeta struct {
	DeadlineMS int64
}

type AddRuleArgs struct {
	RequestMeta
	Rule Rule
}

type RuleReply struct {
	Response
	Rule Rule
}

type UpdateRuleArgs struct {
	RequestMeta
	ID   string
	Rule Rule
}

type DeleteRuleArgs struct {
	RequestMeta
	ID string
}

type GetRuleArgs struct {
	ID string
}

type ListRulesArgs struct {
	Offset int
	Limit  int
}

type ListRulesReply struct {
	Response
	Rules []Rule
	Total int
}

type StatisticsReply struct {
	Response
	Statistics Statistics
}

type SystemInfoReply struct {
	Response
	SystemInfo SystemInfo
}

type DrainEventsArgs struct {
	SubscriptionID string
	Max            int
}

type DrainEventsReply struct {
	Response
	Events []Event
}

type SubscribeArgs struct{}

type SubscribeReply struct {
	Response
	SubscriptionID string
}

type UnsubscribeArgs struct {
	SubscriptionID string
}

type BackupReply struct {
	Response
	Blob []byte
}

type RestoreArgs struct {
	RequestMeta
	Blob  []byte
	Force bool
}

type RestartDataPlaneArgs struct {
	RequestMeta
}
