package model

import "time"

// ScanCursor is the singleton scanner state row.
type ScanCursor struct {
	LastScannedSignature *string    `db:"last_scanned_signature"`
	LastScanTime         *time.Time `db:"last_scan_time"`
	ScanCount            int64      `db:"scan_count"`
}
