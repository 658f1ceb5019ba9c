package otaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

type statusReport struct {
	DeviceID    string `json:"device_id"`
	ProductType string `json:"product_type"`
	Version     string `json:"version"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
}

// ReportStatus posts an update outcome back to the server. Reporting is best
// effort: a failure is logged and returned but never blocks the lifecycle.
func (c *Client) ReportStatus(ctx context.Context, version, status, message string) error {
	report := statusReport{
		DeviceID:    c.deviceID,
		ProductType: c.productType,
		Version:     version,
		Status:      status,
		Message:     message,
		Timestamp:   time.Now().Unix(),
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/report", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("[OTAClient] Status report failed: %v", err)
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[OTAClient] Status report rejected: HTTP %d", resp.StatusCode)
		return fmt.Errorf("%w: report: HTTP %d", ErrNetwork, resp.StatusCode)
	}
	return nil
}
