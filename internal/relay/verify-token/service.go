package verifytoken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"captcha-relay/internal/common/errors"
	commonhttp "captcha-relay/internal/common/http"
	"captcha-relay/internal/common/logger"
	"captcha-relay/internal/common/metrics"
	"captcha-relay/internal/common/observability"
	"captcha-relay/internal/models"
	"captcha-relay/pkg/registry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Service forwards one token to the provider's siteverify endpoint. It holds
// no per-call state and is safe for concurrent use.
type Service struct {
	config *Config
	logger logger.Logger
	client *commonhttp.Client
	obs    *observability.Observability
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	client := deps.HTTPClient
	if client == nil {
		client = commonhttp.NewClient(config.Timeout)
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{
		config: config,
		logger: log.WithFields(map[string]interface{}{"provider": config.ProviderID}),
		client: client,
		obs:    deps.Observability,
	}
}

func (s *Service) Verify(ctx context.Context, input *Input) (*Output, error) {
	start := time.Now()

	token := ""
	clientIP := ""
	if input != nil {
		token = strings.TrimSpace(input.Token)
		clientIP = input.ClientIP
	}
	if token == "" {
		out := rejected(errors.ErrCodeInvalidRequest)
		s.record(ctx, out, start)
		return out, errors.NewInvalidRequestError("token is required")
	}

	ctx, span := s.obs.StartSpan(ctx, "siteverify",
		attribute.String("captcha.provider", s.config.ProviderID),
		attribute.Int("captcha.token_length", len(token)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	s.logger.Debug("Relaying token to siteverify", map[string]interface{}{
		"tokenLength": len(token),
		"clientIp":    clientIP,
	})

	out, err := s.siteverify(ctx, token, clientIP)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.CodeOf(err)))
	}
	span.SetAttributes(attribute.String("captcha.outcome", string(out.Outcome)))
	s.record(ctx, out, start)
	return out, err
}

func (s *Service) siteverify(ctx context.Context, token, clientIP string) (*Output, error) {
	req, err := s.buildRequest(ctx, token, clientIP)
	if err != nil {
		return rejected(errors.ErrCodeInternal), errors.NewInternalError(err)
	}

	callStart := time.Now()
	status, body, err := s.client.Fetch(ctx, req)
	metrics.ObserveUpstream(s.config.ProviderID, metrics.StatusClass(status), time.Since(callStart))

	if err != nil {
		if commonhttp.IsTimeout(err) {
			err = fmt.Errorf("siteverify timed out after %s: %w", s.config.Timeout, err)
		} else {
			err = fmt.Errorf("siteverify request failed: %w", err)
		}
		return rejected(errors.ErrCodeUpstreamUnavailable), errors.NewUpstreamUnavailableError(err)
	}

	if status < 200 || status >= 300 {
		return rejected(errors.ErrCodeUpstreamUnavailable),
			errors.NewUpstreamUnavailableError(fmt.Errorf("siteverify returned status %d", status)).
				WithMetadata("upstreamStatus", status)
	}

	payload, err := parseSiteverify(body)
	if err != nil {
		return rejected(errors.ErrCodeUpstreamMalformed), errors.NewUpstreamMalformedError(err)
	}

	if !payload.Success {
		vfErr := errors.NewVerificationFailedError(payload.ErrorCodes)
		s.logger.WithError(vfErr).Info("Token rejected by provider", map[string]interface{}{
			"errorCodes": payload.ErrorCodes,
			"hostname":   payload.Hostname,
		})
		return &Output{
			Success:     false,
			ChallengeTS: payload.ChallengeTS,
			Hostname:    payload.Hostname,
			Outcome:     OutcomeRejected,
			Reason:      errors.ErrCodeVerificationFailed,
		}, nil
	}

	s.logger.Info("Token verified", map[string]interface{}{
		"hostname":    payload.Hostname,
		"challengeTs": payload.ChallengeTS,
	})

	return &Output{
		Success:     true,
		ChallengeTS: payload.ChallengeTS,
		Hostname:    payload.Hostname,
		Outcome:     OutcomeVerified,
	}, nil
}

// buildRequest encodes secret, response and remoteip with url.Values. The
// provider decides whether they go in the query string or a form body.
func (s *Service) buildRequest(ctx context.Context, token, clientIP string) (*http.Request, error) {
	params := url.Values{}
	params.Set("secret", s.config.SecretKey)
	params.Set("response", token)
	if s.config.ForwardClientIP && clientIP != "" {
		params.Set("remoteip", clientIP)
	}

	var req *http.Request
	switch s.config.Placement {
	case registry.PlacementQuery:
		u, err := url.Parse(s.config.VerifyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid verify url: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			q[k] = v
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
		if err != nil {
			return nil, err
		}
	case registry.PlacementForm:
		var err error
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, s.config.VerifyURL, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		return nil, fmt.Errorf("unknown placement %q", s.config.Placement)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func parseSiteverify(body []byte) (*models.SiteverifyResponse, error) {
	result := upstreamValidator.ValidateBytes(body)
	if !result.Valid {
		return nil, fmt.Errorf("unexpected siteverify payload: %s", strings.Join(result.GetErrorMessages(), "; "))
	}

	var payload models.SiteverifyResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode siteverify payload: %w", err)
	}
	return &payload, nil
}

func (s *Service) record(ctx context.Context, out *Output, start time.Time) {
	label := string(out.Outcome)
	if out.Outcome == OutcomeRejected {
		label = string(out.Reason)
	}
	metrics.VerificationsTotal.WithLabelValues(s.config.ProviderID, label).Inc()
	s.obs.RecordVerification(ctx, s.config.ProviderID, label, time.Since(start))
}
