package redis

// All keys share the "conduit:" prefix.
const keyPrefix = "conduit:"

// taskKey is the hash holding a record: field "data" is the JSON record,
// field "cancel" is set once a cancel request arrives.
func taskKey(id string) string { return keyPrefix + "task:" + id }

// queueKey is the sorted set of claimable task ids scored by RunAt (ms).
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// taskIDsKey is the sorted set of every task id scored by CreatedAt (ms).
const taskIDsKey = keyPrefix + "task_ids"

// dlqKey holds a JSON dead-letter entry.
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the sorted set of entry ids scored by FailedAt (ms).
const dlqIDsKey = keyPrefix + "dlq_ids"

const (
	fieldData   = "data"
	fieldCancel = "cancel"
)
