package storage

import "fmt"

func errDuplicate(kind, id string) error {
	return fmt.Errorf("%s %q already exists", kind, id)
}

func errHasLogs(jobID string) error {
	return fmt.Errorf("job %q still has execution logs", jobID)
}

func errMissingJob(jobID string) error {
	return fmt.Errorf("job %q does not exist", jobID)
}
