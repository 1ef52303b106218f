package store

import "fmt"

// Key layout:
//
//	task:{id}                              string, JSON TaskRecord, TTL=T
//	task:{id}:metadata                      string, JSON {service,user_id} (not a hash), TTL=T+grace
//	task:id:sequence                        counter, no TTL
//	index:tasks                             set
//	index:service:{service}                 set
//	index:service:{service}:user:{user_id}  set
//	index:service:{service}:users           set
const (
	sequenceKey  = "task:id:sequence"
	allTasksKey  = "index:tasks"
	graceSeconds = 60
)

func taskKey(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}

func metadataKey(taskID string) string {
	return fmt.Sprintf("task:%s:metadata", taskID)
}

func serviceIndexKey(service string) string {
	return fmt.Sprintf("index:service:%s", service)
}

func serviceUserIndexKey(service, userID string) string {
	return fmt.Sprintf("index:service:%s:user:%s", service, userID)
}

func serviceUsersIndexKey(service string) string {
	return fmt.Sprintf("index:service:%s:users", service)
}

// TaskIDFromExpiredKey extracts the task id from a "task:{id}" expiration
// notification payload. It returns ok=false for the metadata breadcrumb
// key or anything that isn't a bare task key.
func TaskIDFromExpiredKey(key string) (id string, ok bool) {
	const prefix = "task:"
	const metaSuffix = ":metadata"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", false
	}
	rest := key[len(prefix):]
	if len(rest) > len(metaSuffix) && rest[len(rest)-len(metaSuffix):] == metaSuffix {
		return "", false
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}
