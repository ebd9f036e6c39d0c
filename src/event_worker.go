package main

import (
	"context"
	"log"

	"github.com/ryansname/chargectl/src/charge"
)

// EventHandler is satisfied by *charge.Controller
type EventHandler interface {
	Handle(ev charge.Event)
}

// eventWorker feeds every event source into the controller, one event at a time
func eventWorker(ctx context.Context, eventChan <-chan charge.Event, handler EventHandler) {
	log.Println("Event worker started")
	for {
		select {
		case ev := <-eventChan:
			handler.Handle(ev)
		case <-ctx.Done():
			log.Println("Event worker stopped")
			return
		}
	}
}
