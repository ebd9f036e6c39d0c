package main

import (
	"context"
	"log"

	"github.com/ryansname/chargectl/src/charge"
)

// broadcastWorker receives accepted transitions and fans out to the downstream workers.
// Subscriber callbacks must not block the controller, so a full downstream channel drops the update.
func broadcastWorker(ctx context.Context, inputChan <-chan charge.Transition, outputChans []chan<- charge.Transition) {
	for {
		select {
		case t := <-inputChan:
			for i, ch := range outputChans {
				select {
				case ch <- t:
				case <-ctx.Done():
					return
				default:
					log.Printf("Warning: downstream worker %d channel full, dropping %s -> %s\n", i, t.From, t.To)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// subscribeTransitions forwards controller transitions into ch without blocking the controller
func subscribeTransitions(ctl *charge.Controller, ch chan<- charge.Transition) func() {
	return ctl.Subscribe(func(t charge.Transition) {
		select {
		case ch <- t:
		default:
			log.Printf("Warning: transition channel full, dropping %s -> %s\n", t.From, t.To)
		}
	})
}
