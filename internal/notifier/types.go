package notifier

import "time"

// Config controls outcome notifications to the admin chat.
type Config struct {
	Enabled bool
	// ChatID is the Telegram chat that receives the summaries.
	ChatID int64
	// QueueSize bounds the bus subscription buffer; events past it are dropped.
	QueueSize  int
	RatePerSec int
}

type HistoryItem struct {
	At   time.Time
	Text string
}
