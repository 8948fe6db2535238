package redis

// Key layout:
//
//	cronfire:job:{id}         hash with the definition fields
//	cronfire:jobs             set of all job ids
//	cronfire:due              zset of schedulable ids scored by next_run_at
//	cronfire:claim:{id}       claim marker, value = claiming instance
//	cronfire:exec:{id}        hash with one execution record
//	cronfire:execs:{jobID}    list of execution ids, newest first
//	cronfire:running:{jobID}  id of the live execution, if any

const (
	jobIDsKey = "cronfire:jobs"
	dueKey    = "cronfire:due"
)

func jobKey(id string) string {
	return "cronfire:job:" + id
}

func claimKey(id string) string {
	return "cronfire:claim:" + id
}

func execKey(id string) string {
	return "cronfire:exec:" + id
}

func execListKey(jobID string) string {
	return "cronfire:execs:" + jobID
}

func runningKey(jobID string) string {
	return "cronfire:running:" + jobID
}
