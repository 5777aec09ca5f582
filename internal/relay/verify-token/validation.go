package verifytoken

import "captcha-relay/internal/common/validation"

// MaxTokenLength bounds the token accepted from the browser. Provider tokens
// are a few kilobytes at most.
const MaxTokenLength = 8192

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"token"},
		Properties: map[string]validation.Property{
			"token": {
				Type:        "string",
				Description: "CAPTCHA response token produced by the browser widget",
				MaxLength:   validation.Int(MaxTokenLength),
			},
		},
	}
}

func GetOutputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"success"},
		Properties: map[string]validation.Property{
			"success": {
				Type:        "boolean",
				Description: "Whether the upstream accepted the token",
			},
			"challenge_ts": {
				Type:        "string",
				Description: "Timestamp of the challenge as reported upstream",
			},
			"hostname": {
				Type:        "string",
				Description: "Site hostname the challenge was solved on",
			},
		},
		AdditionalProperties: validation.Bool(false),
	}
}

// GetUpstreamSchema is the minimum a siteverify body must satisfy to be
// trusted.
func GetUpstreamSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"success"},
		Properties: map[string]validation.Property{
			"success":      {Type: "boolean"},
			"challenge_ts": {Type: "string"},
			"hostname":     {Type: "string"},
			"error-codes": {
				Type:  "array",
				Items: &validation.Property{Type: "string"},
			},
		},
	}
}

var (
	inputValidator    = validation.MustCompile(GetInputSchema())
	upstreamValidator = validation.MustCompile(GetUpstreamSchema())
)
