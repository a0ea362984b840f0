package ingestion

import "ragcore/internal/queue"

func payloadString(job queue.Job, key string) string {
	if job.Payload == nil {
		return ""
	}
	v, _ := job.Payload[key].(string)
	return v
}
