package system

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interop/interop/internal/domain/transaction"
)

// Registry resolves external systems by name and owns their connection
// status: TestConnection is the only path that mutates it.
type Registry struct {
	repo   SystemRepository
	client *http.Client
	txns   *transaction.Ledger
	logger zerolog.Logger
}

func NewRegistry(repo SystemRepository, probeTimeout time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		repo:   repo,
		client: &http.Client{Timeout: probeTimeout},
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// RecordProbes mirrors every connectivity test into the transaction ledger.
// Without it, probes update only the persisted connection status.
func (r *Registry) RecordProbes(ledger *transaction.Ledger) {
	r.txns = ledger
}

// Register validates and persists a new system configuration.
func (r *Registry) Register(ctx context.Context, s *System) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if !validKinds[s.Kind] {
		return fmt.Errorf("invalid kind: %s", s.Kind)
	}
	if s.AuthKind == "" {
		s.AuthKind = AuthNone
	}
	if !validAuthKinds[s.AuthKind] {
		return fmt.Errorf("invalid auth kind: %s", s.AuthKind)
	}
	if s.FHIRVersion == "" {
		s.FHIRVersion = "R4"
	}
	s.ConnectionStatus = StatusUnknown
	return r.repo.Create(ctx, s)
}

// Get resolves a system by name. A miss is ErrNotFound.
func (r *Registry) Get(ctx context.Context, name string) (*System, error) {
	return r.repo.GetByName(ctx, name)
}

// GetByID resolves a system by ID.
func (r *Registry) GetByID(ctx context.Context, id uuid.UUID) (*System, error) {
	return r.repo.GetByID(ctx, id)
}

// List returns registered systems, newest-name-first ordering is left to the
// repository.
func (r *Registry) List(ctx context.Context, limit, offset int) ([]*System, int, error) {
	return r.repo.List(ctx, limit, offset)
}

// CountByStatus reports how many systems are in each connection status.
func (r *Registry) CountByStatus(ctx context.Context) (map[string]int, error) {
	return r.repo.CountByStatus(ctx)
}

// TestConnection probes the remote FHIR capability endpoint and persists the
// outcome. Any 2xx or 3xx response counts as connected; everything else,
// including transport failures, marks the system errored. Exactly one
// connection-status write happens per call; when a transaction ledger is
// attached the probe is also recorded there.
func (r *Registry) TestConnection(ctx context.Context, s *System) (bool, error) {
	endpoint := strings.TrimRight(s.BaseURL, "/") + "/metadata"

	var txn *transaction.Transaction
	if r.txns != nil {
		var err error
		txn, err = r.txns.Begin(ctx, transaction.BeginParams{
			TransactionType: transaction.TypeConnectivity,
			ExternalSystem:  &s.ID,
			EndpointURL:     endpoint,
			HTTPMethod:      http.MethodGet,
		})
		if err != nil {
			r.logger.Error().Err(err).Str("system", s.Name).Msg("recording probe transaction")
		}
	}

	statusCode, probeErr := r.probe(ctx, s, endpoint)
	ok := probeErr == nil && statusCode >= 200 && statusCode < 400
	if txn != nil {
		r.finishProbe(ctx, txn, statusCode, probeErr)
	}

	status := StatusError
	var lastSuccess *time.Time
	if ok {
		status = StatusConnected
		now := time.Now().UTC()
		lastSuccess = &now
	}

	if err := r.repo.UpdateConnectionStatus(ctx, s.ID, status, lastSuccess); err != nil {
		return ok, fmt.Errorf("persist connection status for %s: %w", s.Name, err)
	}

	s.ConnectionStatus = status
	if lastSuccess != nil {
		s.LastSuccessfulConnection = lastSuccess
	}
	return ok, nil
}

func (r *Registry) probe(ctx context.Context, s *System, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.logger.Warn().Str("system", s.Name).Err(err).Msg("probe request build failed")
		return 0, err
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn().Str("system", s.Name).Err(err).Msg("probe failed")
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		r.logger.Warn().Str("system", s.Name).Int("status", resp.StatusCode).Msg("probe rejected")
	}
	return resp.StatusCode, nil
}

// finishProbe finalizes the probe's transaction with the same terminal
// classification the exchange clients use.
func (r *Registry) finishProbe(ctx context.Context, txn *transaction.Transaction, statusCode int, probeErr error) {
	var err error
	switch {
	case probeErr == nil:
		err = r.txns.Complete(ctx, txn, statusCode, nil, "")
	case errors.Is(probeErr, context.DeadlineExceeded):
		err = r.txns.Abort(ctx, txn, transaction.StatusTimeout, probeErr.Error())
	case errors.Is(probeErr, context.Canceled):
		err = r.txns.Abort(ctx, txn, transaction.StatusCancelled, probeErr.Error())
	default:
		err = r.txns.Abort(ctx, txn, transaction.StatusFailed, probeErr.Error())
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("finalizing probe transaction")
	}
}
