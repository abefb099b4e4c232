package service

import "github.com/kardianos/service"

const (
	ServiceName        = "invoice-relay"
	ServiceDisplayName = "Invoice Relay Service"
	ServiceDescription = "Invoice Relay - Downloads portal invoices and forwards them to accounting"
)

// NewServiceConfig creates a new service configuration
func NewServiceConfig(exePath string, args []string) *service.Config {
	cfg := &service.Config{
		Name:        ServiceName,
		DisplayName: ServiceDisplayName,
		Description: ServiceDescription,
		Executable:  exePath,
		Arguments:   args,
	}

	// Windows-specific options
	cfg.Option = service.KeyValue{
		"StartType": "automatic",
	}

	return cfg
}
