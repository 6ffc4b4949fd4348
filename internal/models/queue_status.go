package models

import "time"

type QueueStatus struct {
	QueueType          ServiceType `json:"queue_type"`
	CurrentBatchNumber string      `json:"current_batch_number"`
	CurrentTimeWindow  string      `json:"current_time_window"`
	LastUpdated        time.Time   `json:"last_updated"`
}

type SlotAvailability struct {
	TimeWindow string `json:"time_window"`
	Booked     int    `json:"booked"`
	Capacity   int    `json:"capacity"`
	Available  bool   `json:"available"`
}
