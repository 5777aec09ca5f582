package models

// SiteverifyResponse is the JSON body returned by reCAPTCHA, hCaptcha and
// Turnstile siteverify endpoints. Only Success is guaranteed.
type SiteverifyResponse struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challenge_ts,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
}
