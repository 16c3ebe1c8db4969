package cnst

const (
	AppName     = "mcp-edge"
	CommandName = "mcp-edge"
)

const (
	EdgeYaml = "mcp-edge.yaml"
)

const (
	RedisClusterTypeSingle   = "single"
	RedisClusterTypeSentinel = "sentinel"
	RedisClusterTypeCluster  = "cluster"
)

// Store types shared by the pluggable backends
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
	StoreTypeJWT    = "jwt"
	StoreTypeDB     = "db"
	StoreTypeNone   = "none"
)
