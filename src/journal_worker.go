package main

import (
	"context"
	"log"

	"github.com/ryansname/chargectl/src/charge"
	"github.com/ryansname/chargectl/src/journal"
)

// TransitionRecorder is satisfied by *journal.Journal
type TransitionRecorder interface {
	Record(t charge.Transition) (journal.Entry, error)
}

// journalWorker persists every transition it receives
func journalWorker(ctx context.Context, transitions <-chan charge.Transition, recorder TransitionRecorder) {
	log.Println("Journal worker started")
	for {
		select {
		case t := <-transitions:
			if _, err := recorder.Record(t); err != nil {
				log.Printf("Journal: failed to record %s -> %s: %v\n", t.From, t.To, err)
			}
		case <-ctx.Done():
			log.Println("Journal worker stopped")
			return
		}
	}
}
