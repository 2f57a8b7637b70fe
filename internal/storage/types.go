package storage

import "time"

type TxRole string

const (
	RoleOriginal    TxRole = "original"
	RoleReplacement TxRole = "replacement"
)

type TxRecord struct {
	Hash        string
	ChainID     string
	Role        TxRole
	BlockNum    *uint64
	FromAddr    string
	ToAddr      *string
	ValueWei    string // big.Int как строка
	Nonce       uint64
	TxType      uint8
	Gas         uint64
	GasPriceWei string
	Status      *uint8 // 1 success, 0 failed, nil pending
}

type RaceEventType string

const (
	EventDetected          RaceEventType = "detected"
	EventEvaluationFailed  RaceEventType = "evaluation_failed"
	EventInsufficientFunds RaceEventType = "insufficient_funds"
	EventBroadcast         RaceEventType = "broadcast"
	EventBroadcastFailed   RaceEventType = "broadcast_failed"
	EventConfirmation      RaceEventType = "confirmation"
	EventTrackingFailed    RaceEventType = "tracking_failed"
	EventCompleted         RaceEventType = "completed"
)

type RaceEvent struct {
	OriginalHash    string
	ReplacementHash *string
	EventType       RaceEventType
	Confirmations   uint64
	Detail          string
}

type HistoryItem struct {
	At        time.Time
	EventType RaceEventType

	OriginalHash    string
	ReplacementHash *string
	Nonce           *uint64
	GasPriceWei     *string
	Confirmations   uint64
	Detail          string
}
