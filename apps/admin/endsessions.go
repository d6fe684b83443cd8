package main

import (
	"context"
	"time"
)

// endSessions sweeps sessions left active by crashed or abandoned clients.
// Meant for a cron job; a browser that dies mid-session never calls end.
func (cli *commandLine) endSessions(olderThan time.Duration) error {
	count, err := cli.sessRepo.EndStaleSessions(context.Background(), olderThan)
	if err != nil {
		return err
	}
	logger.Printf("ended %d stale session(s)\n", count)
	return nil
}
