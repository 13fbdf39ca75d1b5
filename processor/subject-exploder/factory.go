package subjectexploder

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the subject-exploder processor component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "subject-exploder",
		Factory:     NewComponent,
		Schema:      subjectExploderSchema,
		Type:        "processor",
		Protocol:    "catalog",
		Domain:      "catalog",
		Description: "Derives subjectLiteral_exploded on catalog documents before indexing",
		Version:     "1.0.0",
	})
}
