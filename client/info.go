package client

// Info describes a connection's identity and topology, per spec.md §6's
// info.* surface. Standalone node connections leave ChildInfos nil and
// IsCluster false; ClusterConnection.Info populates one entry per pool
// member.
type Info struct {
	Endpoint              string
	ClusterStartTimestamp int64
	LeaderEndpoint        string
	BuildString           string
	HostID                uint64
	ConnectionID          uint64
	IsCluster             bool
	ChildInfos            []Info
	ConnectionCount       int
	UserID                string
}
