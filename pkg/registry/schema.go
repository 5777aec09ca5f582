// pkg/registry/schema.go
package registry

// Placement says where secret/response/remoteip travel on the siteverify call.
type Placement string

const (
	PlacementQuery Placement = "query"
	PlacementForm  Placement = "form"
)

type ProviderRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Providers   []Provider `json:"providers"`
}

// Provider is a siteverify-compatible CAPTCHA service.
type Provider struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"displayName"`
	Description      string    `json:"description,omitempty"`
	VerifyURL        string    `json:"verifyUrl"`
	Placement        Placement `json:"placement"`
	SupportsRemoteIP bool      `json:"supportsRemoteIp"`
	Tags             []string  `json:"tags,omitempty"`
}
