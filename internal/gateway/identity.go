package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/campushub/thesis-api/pkg/config"
)

// IdentitySync mirrors group membership into the campus identity
// provider. Both mutations are idempotent: adding an existing
// membership or removing a missing one succeeds.
type IdentitySync interface {
	AddGroup(ctx context.Context, universityID, group string) error
	RemoveGroup(ctx context.Context, universityID, group string) error
	Groups(ctx context.Context, universityID string) ([]string, error)
}

// RestIdentitySync talks to a Keycloak-style admin REST API.
type RestIdentitySync struct {
	cfg    config.IdentityConfig
	client *http.Client
	logger *zap.Logger
}

// NewRestIdentitySync constructs the identity client.
func NewRestIdentitySync(cfg config.IdentityConfig, logger *zap.Logger) *RestIdentitySync {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RestIdentitySync{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// AddGroup puts the user into the named group. A conflict response
// means the membership already exists and is treated as success.
func (s *RestIdentitySync) AddGroup(ctx context.Context, universityID, group string) error {
	status, err := s.do(ctx, http.MethodPut, s.membershipURL(universityID, group), nil)
	if err != nil {
		return err
	}
	if status == http.StatusConflict {
		return nil
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("identity add group %s: status %d", group, status)
	}
	return nil
}

// RemoveGroup takes the user out of the named group. A missing
// membership is treated as success.
func (s *RestIdentitySync) RemoveGroup(ctx context.Context, universityID, group string) error {
	status, err := s.do(ctx, http.MethodDelete, s.membershipURL(universityID, group), nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("identity remove group %s: status %d", group, status)
	}
	return nil
}

// Groups fetches the user's current group names.
func (s *RestIdentitySync) Groups(ctx context.Context, universityID string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/admin/realms/%s/users/%s/groups",
		s.cfg.BaseURL, url.PathEscape(s.cfg.Realm), url.PathEscape(universityID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	s.authorize(req)

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch identity groups: %w", err)
	}
	defer drainAndClose(res.Body)

	if res.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch identity groups: status %d", res.StatusCode)
	}

	var payload []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode identity groups: %w", err)
	}
	groups := make([]string, 0, len(payload))
	for _, g := range payload {
		groups = append(groups, g.Name)
	}
	return groups, nil
}

func (s *RestIdentitySync) membershipURL(universityID, group string) string {
	return fmt.Sprintf("%s/admin/realms/%s/users/%s/groups/%s",
		s.cfg.BaseURL, url.PathEscape(s.cfg.Realm), url.PathEscape(universityID), url.PathEscape(group))
}

func (s *RestIdentitySync) do(ctx context.Context, method, endpoint string, payload interface{}) (int, error) {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal identity payload: %w", err)
		}
	}

	attempts := s.cfg.WorkerRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		var body io.Reader
		if raw != nil {
			body = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return 0, fmt.Errorf("build identity request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		s.authorize(req)

		res, err := s.client.Do(req)
		if err == nil {
			drainAndClose(res.Body)
			if res.StatusCode < http.StatusInternalServerError {
				return res.StatusCode, nil
			}
			lastErr = fmt.Errorf("identity status %d", res.StatusCode)
		} else {
			lastErr = err
		}
		s.logger.Warn("identity request attempt failed",
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	return 0, fmt.Errorf("%s %s: %w", method, endpoint, lastErr)
}

func (s *RestIdentitySync) authorize(req *http.Request) {
	if s.cfg.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AdminToken)
	}
}

// NoopIdentitySync is used when identity sync is disabled.
type NoopIdentitySync struct{}

func (NoopIdentitySync) AddGroup(context.Context, string, string) error    { return nil }
func (NoopIdentitySync) RemoveGroup(context.Context, string, string) error { return nil }
func (NoopIdentitySync) Groups(context.Context, string) ([]string, error)  { return nil, nil }

// NewIdentitySync returns the REST client when sync is enabled and a
// noop otherwise.
func NewIdentitySync(cfg config.IdentityConfig, logger *zap.Logger) IdentitySync {
	if cfg.Enabled {
		return NewRestIdentitySync(cfg, logger)
	}
	return NoopIdentitySync{}
}
