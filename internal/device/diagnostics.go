package device

import (
	"encoding/json"
	"fmt"
)

// DiagnosticKind classifies an informational condition met during a scan.
type DiagnosticKind string

// Diagnostic kinds.
const (
	KindNoDevices         DiagnosticKind = "no-devices"
	KindEnumerationFailed DiagnosticKind = "enumeration-failed"
	KindDetachBusy        DiagnosticKind = "detach-busy"
	KindDetachFailed      DiagnosticKind = "detach-failed"
	KindConfigActivated   DiagnosticKind = "config-activated"
	KindConfigBusy        DiagnosticKind = "config-busy"
	KindConfigFailed      DiagnosticKind = "config-failed"
)

// Diagnostic is an informational message. Diagnostics never change the scan
// outcome.
type Diagnostic struct {
	Kind      DiagnosticKind
	Bus       uint8
	Address   uint8
	VendorID  uint16
	ProductID uint16
	// Interface is the interface number, or -1 when not interface specific.
	Interface int
	Message   string
	Err       error
}

func (d Diagnostic) String() string {
	s := d.Message
	if d.Interface >= 0 {
		s = fmt.Sprintf("interface %d: %s", d.Interface, s)
	}
	if d.Err != nil {
		s += ": " + d.Err.Error()
	}
	return s
}

// MarshalJSON renders the cause as a string.
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	var cause string
	if d.Err != nil {
		cause = d.Err.Error()
	}
	return json.Marshal(struct {
		Kind      DiagnosticKind `json:"kind"`
		Bus       uint8          `json:"bus,omitempty"`
		Address   uint8          `json:"address,omitempty"`
		VendorID  uint16         `json:"vendor_id,omitempty"`
		ProductID uint16         `json:"product_id,omitempty"`
		Interface int            `json:"interface"`
		Message   string         `json:"message"`
		Cause     string         `json:"cause,omitempty"`
	}{d.Kind, d.Bus, d.Address, d.VendorID, d.ProductID, d.Interface, d.Message, cause})
}
