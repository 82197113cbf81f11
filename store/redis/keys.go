package redis

import "fmt"

// Key layout. Jobs live as JSON values; ordering state lives in sorted
// sets so claims are single atomic pops.
//
//	conveyor:job:<id>              job record (JSON)
//	conveyor:queues                set of queue names ever seen
//	conveyor:queue:<q>:ready       ZSET of due pending jobs, composite score
//	conveyor:queue:<q>:scheduled   ZSET of future jobs, scored by run_at
//	conveyor:status:<status>       set of job IDs per status
//	conveyor:history:<id>          list of retry attempts (JSON)
//	conveyor:dlq                   ZSET of entry IDs, scored by dead_at
//	conveyor:dlq:entry:<id>        dead letter entry (JSON)
const keyPrefix = "conveyor"

// priorityWeight spreads priorities far enough apart in the ready score
// that priority always dominates the run-at component (millis since
// epoch, currently ~1.7e12).
const priorityWeight = 1e13

func jobKey(jobID string) string { return fmt.Sprintf("%s:job:%s", keyPrefix, jobID) }

func queuesKey() string { return keyPrefix + ":queues" }

func readyKey(queue string) string { return fmt.Sprintf("%s:queue:%s:ready", keyPrefix, queue) }

func scheduledKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:scheduled", keyPrefix, queue)
}

func statusKey(status string) string { return fmt.Sprintf("%s:status:%s", keyPrefix, status) }

func historyKey(jobID string) string { return fmt.Sprintf("%s:history:%s", keyPrefix, jobID) }

func dlqKey() string { return keyPrefix + ":dlq" }

func dlqEntryKey(entryID string) string { return fmt.Sprintf("%s:dlq:entry:%s", keyPrefix, entryID) }
