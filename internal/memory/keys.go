package memory

// Key namespace. Every key is prefixed so one Redis database can host
// multiple deployments side by side without collisions.
const keyPrefix = "threatmem:"

// Tier names used in error context and span attributes.
const (
	tierWorking   = "working"
	tierShortTerm = "short_term"
	tierLongTerm  = "long_term"
)

func workingKey(threatID string) string { return keyPrefix + "wm:" + threatID }

func analystsKey(threatID string) string { return keyPrefix + "wm:analysts:" + threatID }

// workingActiveKey is the L1 active-id set. SAdd on it doubles as the
// atomic uniqueness gate for AddThreat.
const workingActiveKey = keyPrefix + "wm:active"

func shortTermKey(id string) string { return keyPrefix + "stm:" + id }

const (
	shortTermRankKey = keyPrefix + "stm:rank"
	shortTermIDsKey  = keyPrefix + "stm:ids"
)

func longTermKey(id string) string { return keyPrefix + "ltm:" + id }

func industryKey(industry string) string { return keyPrefix + "ltm:industry:" + industry }

const (
	longTermIDsKey   = keyPrefix + "ltm:ids"
	exportPendingKey = keyPrefix + "ltm:export:pending"
)
