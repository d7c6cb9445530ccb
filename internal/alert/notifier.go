package alert

import "hybrid-ids/internal/model"

// Notifier receives every emitted alert, one call per alert
type Notifier interface {
	SendAlert(alert model.Alert) error
}
