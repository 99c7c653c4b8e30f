package tool

import (
	"strings"

	"github.com/google/uuid"
)

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// GenerateOrderID returns a public renewal order id of the form
// REN-XXXXXXXXXXXX (12 uppercase hex characters).
func GenerateOrderID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "REN-" + strings.ToUpper(hex[:12])
}
