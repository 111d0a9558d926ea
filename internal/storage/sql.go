package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (start_time, config)
VALUES (?, ?)`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    config
FROM sessions
ORDER BY start_time`

	insertChannelEventSQL = `
INSERT INTO channel_events (session_id,
                            timestamp,
                            channel_id,
                            label,
                            frequency,
                            status,
                            rssi,
                            noise_floor)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertReceiverEventSQL = `
INSERT INTO receiver_events (session_id,
                             timestamp,
                             receiver_id,
                             health,
                             window_id)
VALUES (?, ?, ?, ?, ?)`

	selectChannelEventsSQL = `
SELECT
    id,
    session_id,
    timestamp,
    channel_id,
    label,
    frequency,
    status,
    rssi,
    noise_floor
FROM channel_events
WHERE
    session_id = ?
ORDER BY timestamp, id`

	selectReceiverEventsSQL = `
SELECT
    id,
    session_id,
    timestamp,
    receiver_id,
    health,
    window_id
FROM receiver_events
WHERE
    session_id = ?
ORDER BY timestamp, id`
)

//go:embed schema.sql
var schemaSQL string
