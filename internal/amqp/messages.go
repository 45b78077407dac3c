package amqp

import (
	"encoding/json"
	"time"
)

// ScanJobMessage tells the worker to run OCR for one uploaded scan.
// Only the id travels on the wire; the worker loads the scan row and
// image from storage.
type ScanJobMessage struct {
	ScanID    string    `json:"scanId"`
	Timestamp time.Time `json:"timestamp"`
}

// ExportJobMessage tells the worker to append one saved receipt to the
// Sheets ledger.
type ExportJobMessage struct {
	ReceiptID string    `json:"receiptId"`
	Timestamp time.Time `json:"timestamp"`
}

func NewScanJobMessage(scanID string) *ScanJobMessage {
	return &ScanJobMessage{ScanID: scanID, Timestamp: time.Now()}
}

func NewExportJobMessage(receiptID string) *ExportJobMessage {
	return &ExportJobMessage{ReceiptID: receiptID, Timestamp: time.Now()}
}

func (m *ScanJobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func (m *ExportJobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ScanJobMessageFromJSON(data []byte) (*ScanJobMessage, error) {
	var msg ScanJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func ExportJobMessageFromJSON(data []byte) (*ExportJobMessage, error) {
	var msg ExportJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
