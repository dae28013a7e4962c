package fhirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interop/interop/internal/domain/consent"
	"github.com/interop/interop/internal/domain/resource"
	"github.com/interop/interop/internal/domain/system"
	"github.com/interop/interop/internal/domain/transaction"
)

const fhirMIMEType = "application/fhir+json"

// searchPersistLimit caps how many bundle entries a search persists locally.
const searchPersistLimit = 10

// Options tunes the exchange client.
type Options struct {
	// Timeout bounds each outbound HTTP call.
	Timeout time.Duration
	// MaxInflight caps concurrent calls per external system.
	MaxInflight int
}

// Client performs FHIR exchange operations against registered external
// systems. Every operation opens exactly one integration transaction before
// the network attempt and finalizes it with the outcome.
type Client struct {
	registry *system.Registry
	consents *consent.Ledger
	store    *resource.Store
	ledger   *transaction.Ledger

	httpClient  *http.Client
	maxInflight int
	logger      zerolog.Logger

	semMu sync.Mutex
	sems  map[uuid.UUID]chan struct{}

	tokenMu sync.Mutex
	tokens  map[uuid.UUID]cachedToken

	tlsMu      sync.Mutex
	tlsClients map[uuid.UUID]*http.Client
}

func NewClient(registry *system.Registry, consents *consent.Ledger, store *resource.Store,
	ledger *transaction.Ledger, opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 4
	}
	return &Client{
		registry:    registry,
		consents:    consents,
		store:       store,
		ledger:      ledger,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		maxInflight: opts.MaxInflight,
		logger:      logger.With().Str("component", "fhir_client").Logger(),
		sems:        make(map[uuid.UUID]chan struct{}),
		tokens:      make(map[uuid.UUID]cachedToken),
		tlsClients:  make(map[uuid.UUID]*http.Client),
	}
}

// acquire blocks until a per-system slot is free or the context ends. A slow
// remote backs up its own queue without starving other systems.
func (c *Client) acquire(ctx context.Context, systemID uuid.UUID) (func(), error) {
	c.semMu.Lock()
	sem, ok := c.sems[systemID]
	if !ok {
		sem = make(chan struct{}, c.maxInflight)
		c.sems[systemID] = sem
	}
	c.semMu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Read fetches one resource from a remote system and persists it locally on
// success.
func (c *Client) Read(ctx context.Context, systemName, resourceType, id string) (*resource.FHIRResource, error) {
	s, err := c.registry.Get(ctx, systemName)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.BaseURL, "/"), resourceType, id)
	txn, err := c.ledger.Begin(ctx, transaction.BeginParams{
		TransactionType: transaction.TypeFHIRRead,
		ExternalSystem:  &s.ID,
		EndpointURL:     endpoint,
		HTTPMethod:      http.MethodGet,
	})
	if err != nil {
		return nil, err
	}

	body, status, err := c.exchange(ctx, s, txn, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		c.finalize(ctx, txn, status, body, "")
		return nil, &RemoteError{StatusCode: status, Body: body}
	}

	res, err := c.store.Persist(ctx, body, &s.ID)
	if err != nil {
		c.finalize(ctx, txn, status, body, err.Error())
		return nil, err
	}
	txn.RelatedFHIRResource = &res.ResourceID
	c.finalize(ctx, txn, status, body, "")
	return res, nil
}

// Create sends a new resource to a remote system. When the document
// implicates a patient, a valid data-sharing consent is required before any
// network activity; a denied check is logged through the compliance side
// channel and no transaction row is written.
func (c *Client) Create(ctx context.Context, systemName string, doc map[string]interface{}) (*resource.FHIRResource, error) {
	resourceType, _ := doc["resourceType"].(string)
	if resourceType == "" {
		return nil, fmt.Errorf("fhirclient: resourceType is required")
	}

	s, err := c.registry.Get(ctx, systemName)
	if err != nil {
		return nil, err
	}

	if patient := resource.RelatedPatientRef(doc); patient != "" {
		valid, err := c.consents.IsValid(ctx, patient, consent.TypeDataSharing)
		if err != nil {
			return nil, err
		}
		if !valid {
			c.consents.LogDenied(patient, consent.TypeDataSharing, "fhir-create")
			return nil, ErrConsentDenied
		}
	}

	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(s.BaseURL, "/"), resourceType)
	txn, err := c.ledger.Begin(ctx, transaction.BeginParams{
		TransactionType: transaction.TypeFHIRCreate,
		ExternalSystem:  &s.ID,
		EndpointURL:     endpoint,
		HTTPMethod:      http.MethodPost,
		RequestData:     doc,
	})
	if err != nil {
		return nil, err
	}

	body, status, err := c.exchange(ctx, s, txn, http.MethodPost, endpoint, doc)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		c.finalize(ctx, txn, status, body, "")
		return nil, &RemoteError{StatusCode: status, Body: body}
	}

	created := body
	if created == nil {
		// Some servers return an empty body on 201; fall back to what we sent.
		created = doc
	}
	res, err := c.store.Persist(ctx, created, &s.ID)
	if err != nil {
		c.finalize(ctx, txn, status, body, err.Error())
		return nil, err
	}
	txn.RelatedFHIRResource = &res.ResourceID
	c.finalize(ctx, txn, status, body, "")
	return res, nil
}

// Search queries a remote system and returns the bundle. Up to the first ten
// bundle entries are persisted locally.
func (c *Client) Search(ctx context.Context, systemName, resourceType string, params url.Values) (map[string]interface{}, error) {
	s, err := c.registry.Get(ctx, systemName)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(s.BaseURL, "/"), resourceType)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	txn, err := c.ledger.Begin(ctx, transaction.BeginParams{
		TransactionType: transaction.TypeFHIRSearch,
		ExternalSystem:  &s.ID,
		EndpointURL:     endpoint,
		HTTPMethod:      http.MethodGet,
	})
	if err != nil {
		return nil, err
	}

	body, status, err := c.exchange(ctx, s, txn, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		c.finalize(ctx, txn, status, body, "")
		return nil, &RemoteError{StatusCode: status, Body: body}
	}

	if rt, _ := body["resourceType"].(string); rt == "Bundle" {
		c.persistBundle(ctx, body, &s.ID)
	}
	c.finalize(ctx, txn, status, body, "")
	return body, nil
}

func (c *Client) persistBundle(ctx context.Context, bundle map[string]interface{}, sourceSystem *uuid.UUID) {
	entries, _ := bundle["entry"].([]interface{})
	for i, raw := range entries {
		if i >= searchPersistLimit {
			break
		}
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		doc, ok := entry["resource"].(map[string]interface{})
		if !ok {
			continue
		}
		if _, err := c.store.Persist(ctx, doc, sourceSystem); err != nil {
			c.logger.Error().Err(err).Msg("persisting bundle entry")
		}
	}
}

// exchange performs one HTTP call under the per-system concurrency cap. A
// transport failure finalizes the transaction before returning: context
// deadline and cancellation become timeout/cancelled outcomes, everything
// else fails the transaction with status 500 and the error text.
func (c *Client) exchange(ctx context.Context, s *system.System, txn *transaction.Transaction,
	method, endpoint string, payload map[string]interface{}) (map[string]interface{}, int, error) {

	release, err := c.acquire(ctx, s.ID)
	if err != nil {
		c.abort(ctx, txn, err)
		return nil, 0, &TransportError{Err: err}
	}
	defer release()

	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			c.abort(ctx, txn, err)
			return nil, 0, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		c.abort(ctx, txn, err)
		return nil, 0, err
	}
	req.Header.Set("Accept", fhirMIMEType)
	if payload != nil {
		req.Header.Set("Content-Type", fhirMIMEType)
	}
	if err := c.applyAuth(ctx, req, s); err != nil {
		c.abort(ctx, txn, err)
		return nil, 0, err
	}

	resp, err := c.clientFor(s).Do(req)
	if err != nil {
		c.abort(ctx, txn, err)
		return nil, 0, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		c.abort(ctx, txn, err)
		return nil, 0, &TransportError{Err: err}
	}

	var body map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			// Non-JSON error bodies are captured verbatim.
			body = map[string]interface{}{"error": string(raw)}
		}
	}
	return body, resp.StatusCode, nil
}

// finalize completes the transaction, logging rather than propagating ledger
// write failures so the exchange result is not masked.
func (c *Client) finalize(ctx context.Context, txn *transaction.Transaction, status int,
	body map[string]interface{}, errorMessage string) {
	if err := c.ledger.Complete(ctx, txn, status, body, errorMessage); err != nil {
		c.logger.Error().Err(err).
			Str("transaction_id", txn.TransactionID.String()).
			Msg("finalizing transaction")
	}
}

// abort classifies a transport-level failure into a terminal transaction
// outcome.
func (c *Client) abort(ctx context.Context, txn *transaction.Transaction, cause error) {
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		if err := c.ledger.Abort(ctx, txn, transaction.StatusTimeout, cause.Error()); err != nil {
			c.logger.Error().Err(err).Msg("aborting transaction")
		}
	case errors.Is(cause, context.Canceled):
		if err := c.ledger.Abort(ctx, txn, transaction.StatusCancelled, cause.Error()); err != nil {
			c.logger.Error().Err(err).Msg("aborting transaction")
		}
	default:
		c.finalize(ctx, txn, http.StatusInternalServerError, nil, cause.Error())
	}
}
