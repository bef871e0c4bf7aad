// Package nightscout provides the authenticated client for the remote
// Nightscout data store: profile documents, glucose entries and treatments.
package nightscout

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nightsync/internal/domain"
)

const (
	profilePath    = "/api/v1/profile"
	entriesPath    = "/api/v1/entries"
	treatmentsPath = "/api/v1/treatments"

	defaultTimeout    = 30 * time.Second
	defaultBatchCount = 1000
)

// Config holds client configuration.
type Config struct {
	// BaseURL of the Nightscout instance. Must use HTTPS.
	BaseURL string
	// APISecret is the shared secret. Only its SHA-1 hash ever leaves
	// the process.
	APISecret string
	// Timeout is the per-request timeout.
	Timeout time.Duration
	// BatchCount is the page size for entry/treatment pagination.
	BatchCount int
	// Retry controls transient-failure backoff.
	Retry RetryPolicy
}

// Client is the Nightscout API client.
type Client struct {
	baseURL    string
	secretHash string
	batchCount int
	retry      RetryPolicy
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

// NewClient creates a new Nightscout client. The base URL is rejected
// before any network call if it is not HTTPS.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, domain.WrapError(domain.ErrKindValidation, err, "invalid Nightscout URL")
	}
	if u.Scheme != "https" {
		return nil, domain.NewError(domain.ErrKindValidation,
			"Nightscout URL must use https, got scheme %q", u.Scheme)
	}
	if cfg.APISecret == "" {
		return nil, domain.NewError(domain.ErrKindValidation, "API secret is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BatchCount <= 0 {
		cfg.BatchCount = defaultBatchCount
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	hash := sha1.Sum([]byte(cfg.APISecret))

	return &Client{
		baseURL:    cfg.BaseURL,
		secretHash: hex.EncodeToString(hash[:]),
		batchCount: cfg.BatchCount,
		retry:      cfg.Retry,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("client", "nightscout").Logger(),
		now:        time.Now,
	}, nil
}

// FetchProfile fetches and validates the profile document. If name is
// non-empty the named profile must exist in the document.
func (c *Client) FetchProfile(ctx context.Context, name string) (*domain.ProfileDocument, error) {
	c.log.Debug().Str("profile", name).Msg("Fetching profile document")

	data, err := c.do(ctx, http.MethodGet, profilePath, nil, nil)
	if err != nil {
		return nil, err
	}

	doc, err := decodeProfileDocument(data)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if name != "" {
		if _, _, err := doc.ResolveStore(name); err != nil {
			return nil, err
		}
	}

	c.log.Info().Int("profiles", len(doc.Store)).Msg("Loaded profile document")
	return doc, nil
}

// FetchHistoricalData fetches glucose entries and treatments for the
// window [now - days, now]. Individually invalid records are dropped and
// counted, never failing the whole call.
func (c *Client) FetchHistoricalData(ctx context.Context, days int) (*domain.HistoricalDataset, error) {
	if days <= 0 {
		return nil, domain.NewError(domain.ErrKindValidation, "window must be positive, got %d days", days)
	}

	end := c.now()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	c.log.Info().
		Time("start", start).
		Time("end", end).
		Int("days", days).
		Msg("Fetching historical data")

	entries, entriesDropped, err := c.fetchEntries(ctx, start, end)
	if err != nil {
		return nil, err
	}
	treatments, treatmentsDropped, err := c.fetchTreatments(ctx, start, end)
	if err != nil {
		return nil, err
	}

	if entriesDropped > 0 || treatmentsDropped > 0 {
		c.log.Warn().
			Int("entries_dropped", entriesDropped).
			Int("treatments_dropped", treatmentsDropped).
			Msg("Dropped invalid records from historical data")
	}
	c.log.Info().
		Int("entries", len(entries)).
		Int("treatments", len(treatments)).
		Msg("Loaded historical data")

	return &domain.HistoricalDataset{
		Entries:           entries,
		Treatments:        treatments,
		Start:             start,
		End:               end,
		EntriesDropped:    entriesDropped,
		TreatmentsDropped: treatmentsDropped,
	}, nil
}

// PushProfile writes an updated profile back into the remote document.
// When expectedMills is nonzero the push fails with a conflict if the
// remote document changed since it was fetched.
func (c *Client) PushProfile(ctx context.Context, store domain.ProfileStore, name string, expectedMills int64) error {
	doc, err := c.FetchProfile(ctx, "")
	if err != nil {
		return err
	}

	if expectedMills > 0 && doc.Mills != expectedMills {
		return domain.NewError(domain.ErrKindConflict,
			"remote profile changed since fetch (mills %d, expected %d)", doc.Mills, expectedMills)
	}

	if name == "" {
		name = doc.DefaultProfile
	}
	doc.Store[name] = store
	doc.Mills = c.now().UnixMilli()

	body, err := json.Marshal(doc)
	if err != nil {
		return domain.WrapError(domain.ErrKindValidation, err, "failed to serialize profile document")
	}

	c.log.Info().Str("profile", name).Msg("Pushing updated profile")

	if _, err := c.do(ctx, http.MethodPost, profilePath, nil, body); err != nil {
		return err
	}

	c.log.Info().Str("profile", name).Msg("Profile pushed")
	return nil
}

// fetchEntries pages backwards through the entries endpoint, newest first,
// and returns valid entries in ascending timestamp order.
func (c *Client) fetchEntries(ctx context.Context, start, end time.Time) ([]domain.GlucoseEntry, int, error) {
	var (
		entries []domain.GlucoseEntry
		dropped int
		seen    = map[string]bool{}
		cursor  = end
	)

	for {
		query := url.Values{}
		query.Set("find[dateString][$gte]", start.UTC().Format(time.RFC3339))
		query.Set("find[dateString][$lte]", cursor.UTC().Format(time.RFC3339Nano))
		query.Set("count", strconv.Itoa(c.batchCount))

		data, err := c.do(ctx, http.MethodGet, entriesPath, query, nil)
		if err != nil {
			return nil, 0, err
		}

		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, 0, domain.WrapError(domain.ErrKindValidation, err, "failed to decode entries response")
		}
		if len(raws) == 0 {
			break
		}

		var oldest int64
		for _, raw := range raws {
			var entry domain.GlucoseEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				dropped++
				c.log.Debug().Err(err).Msg("Skipping undecodable glucose entry")
				continue
			}
			if oldest == 0 || entry.Date < oldest {
				oldest = entry.Date
			}
			if err := entry.Validate(); err != nil {
				dropped++
				c.log.Debug().Err(err).Msg("Skipping invalid glucose entry")
				continue
			}
			key := fmt.Sprintf("%d|%s", entry.Date, entry.Type)
			if seen[key] {
				continue
			}
			seen[key] = true
			entries = append(entries, entry)
		}

		if len(raws) < c.batchCount || oldest == 0 {
			break
		}
		cursor = time.UnixMilli(oldest - 1)
		if !cursor.After(start) {
			break
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })
	return entries, dropped, nil
}

// fetchTreatments mirrors fetchEntries for the treatments endpoint.
// Drop-and-continue applies to treatments the same way it does to entries.
func (c *Client) fetchTreatments(ctx context.Context, start, end time.Time) ([]domain.TreatmentEntry, int, error) {
	var (
		treatments []domain.TreatmentEntry
		dropped    int
		seen       = map[string]bool{}
		cursor     = end
	)

	for {
		query := url.Values{}
		query.Set("find[created_at][$gte]", start.UTC().Format(time.RFC3339))
		query.Set("find[created_at][$lte]", cursor.UTC().Format(time.RFC3339Nano))
		query.Set("count", strconv.Itoa(c.batchCount))

		data, err := c.do(ctx, http.MethodGet, treatmentsPath, query, nil)
		if err != nil {
			return nil, 0, err
		}

		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, 0, domain.WrapError(domain.ErrKindValidation, err, "failed to decode treatments response")
		}
		if len(raws) == 0 {
			break
		}

		var oldest time.Time
		for _, raw := range raws {
			var treatment domain.TreatmentEntry
			if err := json.Unmarshal(raw, &treatment); err != nil {
				dropped++
				c.log.Debug().Err(err).Msg("Skipping undecodable treatment")
				continue
			}
			if ts, err := time.Parse(time.RFC3339, treatment.CreatedAt); err == nil {
				if oldest.IsZero() || ts.Before(oldest) {
					oldest = ts
				}
			}
			if err := treatment.Validate(); err != nil {
				dropped++
				c.log.Debug().Err(err).Msg("Skipping invalid treatment")
				continue
			}
			key := treatment.CreatedAt + "|" + treatment.EventType
			if seen[key] {
				continue
			}
			seen[key] = true
			treatments = append(treatments, treatment)
		}

		if len(raws) < c.batchCount || oldest.IsZero() {
			break
		}
		cursor = oldest.Add(-time.Millisecond)
		if !cursor.After(start) {
			break
		}
	}

	sort.Slice(treatments, func(i, j int) bool { return treatments[i].CreatedAt < treatments[j].CreatedAt })
	return treatments, dropped, nil
}

// do executes one API request with the retry policy applied. The shared
// secret never appears in requests, logs or errors; only its hash is sent.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		data, err := c.doOnce(ctx, method, path, query, body)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !domain.IsKind(err, domain.ErrKindTransient) || attempt >= c.retry.MaxAttempts {
			return nil, lastErr
		}

		delay := c.retry.Delay(attempt)
		c.log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Str("path", path).
			Msg("Transient failure, retrying")

		select {
		case <-ctx.Done():
			return nil, domain.WrapError(domain.ErrKindCancelled, ctx.Err(), "request cancelled during backoff")
		case <-time.After(delay):
		}
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, domain.WrapError(domain.ErrKindValidation, err, "failed to create request")
	}
	req.Header.Set("API-SECRET", c.secretHash)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.WrapError(domain.ErrKindCancelled, ctx.Err(), "request cancelled")
		}
		return nil, domain.WrapError(domain.ErrKindTransient, err, "request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.NewError(domain.ErrKindAuth, "authentication rejected (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewError(domain.ErrKindNotFound, "%s not found", path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.NewError(domain.ErrKindTransient, "server returned status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, domain.NewError(domain.ErrKindValidation, "unexpected status %d for %s", resp.StatusCode, path)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrKindTransient, err, "failed to read response")
	}
	return data, nil
}

// decodeProfileDocument accepts either a document array (newest first, the
// usual API shape) or a bare document object.
func decodeProfileDocument(data []byte) (*domain.ProfileDocument, error) {
	var docs []*domain.ProfileDocument
	if err := json.Unmarshal(data, &docs); err == nil {
		if len(docs) == 0 {
			return nil, domain.NewError(domain.ErrKindNotFound, "no profile documents in remote store")
		}
		return docs[0], nil
	}

	var doc domain.ProfileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.WrapError(domain.ErrKindValidation, err, "failed to decode profile document")
	}
	return &doc, nil
}
