package network

import (
	"log"
	"time"
)

// Monitor receives operator-facing events from the relay. Implementations
// must be fast and non-blocking; the relay calls them inline from read loops
// and never waits on them.
type Monitor interface {
	AppendLog(text string)
	NotifyClientJoined(username string, joinedAt time.Time)
	NotifyClientLeft(username string)
}

// NopMonitor discards all events.
type NopMonitor struct{}

func (NopMonitor) AppendLog(string)                     {}
func (NopMonitor) NotifyClientJoined(string, time.Time) {}
func (NopMonitor) NotifyClientLeft(string)              {}

// LogMonitor writes events to the process log.
type LogMonitor struct{}

func (LogMonitor) AppendLog(text string) {
	log.Print(text)
}

func (LogMonitor) NotifyClientJoined(username string, joinedAt time.Time) {
	log.Printf("---> %s logged in at %s", username, joinedAt.Format("15:04:05"))
}

func (LogMonitor) NotifyClientLeft(username string) {
	log.Printf("<--- %s disconnected", username)
}

// MultiMonitor fans events out to several monitors.
type MultiMonitor []Monitor

func (m MultiMonitor) AppendLog(text string) {
	for _, mon := range m {
		mon.AppendLog(text)
	}
}

func (m MultiMonitor) NotifyClientJoined(username string, joinedAt time.Time) {
	for _, mon := range m {
		mon.NotifyClientJoined(username, joinedAt)
	}
}

func (m MultiMonitor) NotifyClientLeft(username string) {
	for _, mon := range m {
		mon.NotifyClientLeft(username)
	}
}
