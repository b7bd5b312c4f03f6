package models

import "time"

// WOLConfig holds Wake-on-LAN settings for the repository host.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollURL       string        // HTTP endpoint polled until the host answers
	PollAddress   string        // host:port dialed when PollURL is empty
	Timeout       time.Duration // max time to wait for the host
	PollInterval  time.Duration
	StabilizeWait time.Duration // wait after the host responds
}

// WOLResult holds the result of waking the repository host.
type WOLResult struct {
	PacketSent   bool
	HostReady    bool
	WaitDuration time.Duration
	Error        error
}
