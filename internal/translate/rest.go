package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/vrs"
)

const defaultRequestTimeout = 30 * time.Second

// RESTTranslator talks to a variation normalization service over HTTP.
// Transient failures (network, 5xx) are retried with exponential
// backoff; 4xx responses become TranslationErrors immediately.
type RESTTranslator struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ Translator = (*RESTTranslator)(nil)

// NewRESTTranslator returns a translator for the service at baseURL.
func NewRESTTranslator(baseURL string) *RESTTranslator {
	return &RESTTranslator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultRequestTimeout},
		logger:  zap.NewNop(),
	}
}

// SetLogger replaces the default no-op logger.
func (t *RESTTranslator) SetLogger(logger *zap.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// translateResponse is the service's wire shape.
type translateResponse struct {
	Variation json.RawMessage `json:"variation"`
	Warnings  []string        `json:"warnings"`
}

// TranslateVariation implements Translator.
func (t *RESTTranslator) TranslateVariation(ctx context.Context, definition string, opts Options) (vrs.Variation, error) {
	params := url.Values{}
	params.Set("q", definition)
	if opts.InputType != "" {
		params.Set("fmt", opts.InputType)
	}
	if opts.AssemblyName != "" {
		params.Set("assembly", opts.AssemblyName)
	}
	if opts.Copies != nil {
		copies, err := json.Marshal(opts.Copies)
		if err != nil {
			return nil, fmt.Errorf("encode copies: %w", err)
		}
		params.Set("copies", string(copies))
	}
	if opts.CopyChange != "" {
		params.Set("copy_change", opts.CopyChange)
	}
	return t.translate(ctx, definition, params)
}

// TranslateVCFRow implements Translator.
func (t *RESTTranslator) TranslateVCFRow(ctx context.Context, coords, assembly string) (vrs.Variation, error) {
	params := url.Values{}
	params.Set("q", coords)
	params.Set("fmt", "gnomad")
	params.Set("assembly", assembly)
	return t.translate(ctx, coords, params)
}

// GetSequenceAccession implements Translator.
func (t *RESTTranslator) GetSequenceAccession(ctx context.Context, assembly, chrom string) (string, error) {
	params := url.Values{}
	params.Set("assembly", assembly)
	params.Set("chrom", chrom)
	endpoint := t.baseURL + "/sequence_id?" + params.Encode()

	var resp struct {
		SequenceID string `json:"sequence_id"`
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		res, err := t.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		switch {
		case res.StatusCode >= 500:
			return fmt.Errorf("translator returned %d", res.StatusCode)
		case res.StatusCode >= 400:
			return backoff.Permanent(&TranslationError{
				Definition: assembly + "/" + chrom,
				Reason:     fmt.Sprintf("no sequence accession (%d)", res.StatusCode),
			})
		}
		return json.Unmarshal(body, &resp)
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		var terr *TranslationError
		if errors.As(err, &terr) {
			return "", terr
		}
		return "", &ConnectionError{Err: err}
	}
	if resp.SequenceID == "" {
		return "", &TranslationError{Definition: assembly + "/" + chrom, Reason: "no sequence accession returned"}
	}
	return resp.SequenceID, nil
}

func (t *RESTTranslator) translate(ctx context.Context, definition string, params url.Values) (vrs.Variation, error) {
	endpoint := t.baseURL + "/translate_from?" + params.Encode()

	var resp translateResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		res, err := t.client.Do(req)
		if err != nil {
			t.logger.Debug("translator request failed, will retry", zap.Error(err))
			return err
		}
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		switch {
		case res.StatusCode >= 500:
			t.logger.Debug("translator returned server error, will retry",
				zap.Int("status", res.StatusCode))
			return fmt.Errorf("translator returned %d", res.StatusCode)
		case res.StatusCode >= 400:
			return backoff.Permanent(&TranslationError{
				Definition: definition,
				Reason:     fmt.Sprintf("service rejected the request (%d)", res.StatusCode),
			})
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("decode translator response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		var terr *TranslationError
		if errors.As(err, &terr) {
			return nil, terr
		}
		return nil, &ConnectionError{Err: err}
	}

	if len(resp.Variation) == 0 || string(resp.Variation) == "null" {
		reason := "no variation returned"
		if len(resp.Warnings) > 0 {
			reason = strings.Join(resp.Warnings, "; ")
		}
		return nil, &TranslationError{Definition: definition, Reason: reason}
	}
	obj, err := vrs.FromJSON(resp.Variation)
	if err != nil {
		return nil, &TranslationError{Definition: definition, Reason: err.Error()}
	}
	v, ok := obj.(vrs.Variation)
	if !ok {
		return nil, &TranslationError{Definition: definition,
			Reason: fmt.Sprintf("service returned a %s, not a variation", obj.ObjectType())}
	}
	if err := vrs.RecursiveIdentify(v); err != nil {
		return nil, fmt.Errorf("identify translated variation: %w", err)
	}
	return v, nil
}
