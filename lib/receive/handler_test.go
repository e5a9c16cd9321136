// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package receive

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/authn"
	"github.com/bureau-foundation/intake/lib/clock"
	"github.com/bureau-foundation/intake/lib/datafeedkey"
	"github.com/bureau-foundation/intake/lib/demux"
	"github.com/bureau-foundation/intake/lib/filter"
	"github.com/bureau-foundation/intake/lib/target"
	"github.com/bureau-foundation/intake/lib/target/targettest"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	handler *Handler
	store   *targettest.Store
	metrics *Metrics
}

type harnessConfig struct {
	strategies   []authn.Authenticator
	required     bool
	autoGenerate bool
	trustProxy   bool
	store        *targettest.Store
}

func testCatalog() targettest.Catalog {
	return targettest.Catalog{
		"TEST-FEED":   {Name: "TEST-FEED", Status: target.FeedReceive},
		"OTHER-FEED":  {Name: "OTHER-FEED", Status: target.FeedReceive},
		"CLOSED-FEED": {Name: "CLOSED-FEED", Status: target.FeedReject},
		"QUIET-FEED":  {Name: "QUIET-FEED", Status: target.FeedDrop},
	}
}

func newHarness(t *testing.T, config harnessConfig) *harness {
	t.Helper()
	store := config.store
	if store == nil {
		store = &targettest.Store{}
	}
	catalog := testCatalog()
	metrics, err := NewMetrics(MetricsConfig{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	handler := NewHandler(Config{
		Authenticator: authn.NewChain(authn.ChainConfig{
			Strategies: config.strategies,
			Required:   config.required,
		}),
		Processor: demux.New(demux.Config{Store: store, Catalog: catalog, TempDir: t.TempDir()}),
		Filter: filter.Wrap(
			filter.NewFeedNameFilter(filter.FeedNameConfig{AutoGenerate: config.autoGenerate, DefaultType: "Raw Events"}),
			filter.NewFeedStatusFilter(filter.FeedStatusConfig{Catalog: catalog}),
		),
		Hostname:          "intake-01",
		TrustProxyHeaders: config.trustProxy,
		Clock:             clock.Fake(testEpoch),
		Metrics:           metrics,
	})
	return &harness{handler: handler, store: store, metrics: metrics}
}

func (h *harness) post(headers map[string]string, body []byte) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, "/datafeed", bytes.NewReader(body))
	request.RemoteAddr = "192.0.2.10:40000"
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func buildZip(t *testing.T, entries ...string) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	for i := 0; i+1 < len(entries); i += 2 {
		file, err := writer.Create(entries[i])
		if err != nil {
			t.Fatalf("Create(%s): %v", entries[i], err)
		}
		io.WriteString(file, entries[i+1])
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buffer.Bytes()
}

func committedMeta(t *testing.T, store *targettest.Store) *attrmap.Map {
	t.Helper()
	committed := store.Committed()
	if len(committed) != 1 || len(committed[0].Layers) != 1 {
		t.Fatalf("committed = %d targets, want 1 with 1 layer", len(committed))
	}
	meta, err := attrmap.Parse(bytes.NewReader(committed[0].Layers[0].Meta.Bytes()))
	if err != nil {
		t.Fatalf("parsing meta: %v", err)
	}
	return meta
}

func expectResponse(t *testing.T, recorder *httptest.ResponseRecorder, code int, bodyPrefix string) {
	t.Helper()
	if recorder.Code != code {
		t.Errorf("status = %d, want %d (body %q)", recorder.Code, code, recorder.Body.String())
	}
	if !strings.HasPrefix(recorder.Body.String(), bodyPrefix) {
		t.Errorf("body = %q, want prefix %q", recorder.Body.String(), bodyPrefix)
	}
	if recorder.Header().Get(ReceiptIDHeader) == "" {
		t.Error("response has no Receipt-Id")
	}
}

func TestReceivePlainData(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	recorder := h.post(map[string]string{
		"Feed":          "TEST-FEED",
		"Type":          "Raw Events",
		"accountid":     "acc-1",
		"System":        "billing",
		"Authorization": "Bearer not-a-credential",
	}, []byte("line one\nline two\n"))

	expectResponse(t, recorder, http.StatusOK, "0 - OK")

	committed := h.store.Committed()
	if len(committed) != 1 || committed[0].Feed != "TEST-FEED" || committed[0].Type != "Raw Events" {
		t.Fatalf("committed = %+v", committed)
	}
	if got := committed[0].Layers[0].Data.String(); got != "line one\nline two\n" {
		t.Errorf("data = %q", got)
	}

	meta := committedMeta(t, h.store)
	if meta.Get(attrmap.ReceiptID) != recorder.Header().Get(ReceiptIDHeader) {
		t.Errorf("ReceiptId = %q, header %q", meta.Get(attrmap.ReceiptID), recorder.Header().Get(ReceiptIDHeader))
	}
	checks := map[string]string{
		attrmap.ReceivedTime:  "2026-03-01T12:00:00.000Z",
		attrmap.ReceivedPath:  "intake-01",
		attrmap.RemoteAddress: "192.0.2.10",
		attrmap.RemoteHost:    "192.0.2.10",
		attrmap.StreamSize:    "18",
		"System":              "billing",
	}
	for key, want := range checks {
		if got := meta.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if meta.Contains(attrmap.Authorization) {
		t.Error("Authorization was stored")
	}
	if !strings.Contains(meta.String(), "AccountId:acc-1") {
		t.Errorf("AccountId spelling not restored:\n%s", meta.String())
	}
}

func TestReceiverOwnedKeysCannotBeSpoofed(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	recorder := h.post(map[string]string{
		"Feed":            "TEST-FEED",
		"ReceiptId":       "forged",
		"RemoteDN":        "CN=admin",
		"UploadUserId":    "admin",
		"ReceivedPath":    "upstream-proxy",
		"X-Forwarded-For": "203.0.113.1",
	}, []byte("data"))
	expectResponse(t, recorder, http.StatusOK, "0 - OK")

	meta := committedMeta(t, h.store)
	if meta.Get(attrmap.ReceiptID) == "forged" {
		t.Error("ReceiptId taken from the request")
	}
	if meta.Contains(attrmap.RemoteDN) || meta.Contains(attrmap.UploadUserID) {
		t.Errorf("spoofed identity stored:\n%s", meta.String())
	}
	if got := meta.Get(attrmap.ReceivedPath); got != "upstream-proxy,intake-01" {
		t.Errorf("ReceivedPath = %q", got)
	}
	if got := meta.Get(attrmap.RemoteAddress); got != "192.0.2.10" {
		t.Errorf("RemoteAddress = %q, forwarded header trusted", got)
	}
}

func TestTrustedProxyHeaders(t *testing.T) {
	h := newHarness(t, harnessConfig{
		strategies: []authn.Authenticator{authn.NewCertificateAuthenticator(clock.Fake(testEpoch), nil)},
		required:   true,
		trustProxy: true,
	})
	recorder := h.post(map[string]string{
		"Feed":             "TEST-FEED",
		"RemoteDN":         "CN=billing-sender,O=Acme",
		"RemoteCertExpiry": "2027-01-01T00:00:00Z",
		"X-Forwarded-For":  "203.0.113.1, 10.0.0.2",
	}, []byte("data"))
	expectResponse(t, recorder, http.StatusOK, "0 - OK")

	meta := committedMeta(t, h.store)
	if got := meta.Get(attrmap.UploadUserID); got != "billing-sender" {
		t.Errorf("UploadUserId = %q", got)
	}
	if got := meta.Get(attrmap.RemoteAddress); got != "203.0.113.1" {
		t.Errorf("RemoteAddress = %q", got)
	}
}

func TestPeerCertificateFillsRemoteDN(t *testing.T) {
	h := newHarness(t, harnessConfig{
		strategies: []authn.Authenticator{authn.NewCertificateAuthenticator(clock.Fake(testEpoch), nil)},
		required:   true,
	})
	request := httptest.NewRequest(http.MethodPost, "/datafeed", strings.NewReader("data"))
	request.Header.Set("Feed", "TEST-FEED")
	request.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{
		Subject:  pkix.Name{CommonName: "sender-7", Organization: []string{"Acme"}},
		NotAfter: testEpoch.Add(24 * time.Hour),
	}}}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	expectResponse(t, recorder, http.StatusOK, "0 - OK")

	meta := committedMeta(t, h.store)
	if got := meta.Get(attrmap.RemoteDN); got != "CN=sender-7,O=Acme" {
		t.Errorf("RemoteDN = %q", got)
	}
	if got := meta.Get(attrmap.RemoteCertExpiry); got != "2026-03-02T12:00:00.000Z" {
		t.Errorf("RemoteCertExpiry = %q", got)
	}
	if got := meta.Get(attrmap.UploadUsername); got != "sender-7" {
		t.Errorf("UploadUsername = %q", got)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	h := newHarness(t, harnessConfig{
		strategies: []authn.Authenticator{authn.NewCertificateAuthenticator(clock.Fake(testEpoch), nil)},
		required:   true,
	})
	recorder := h.post(map[string]string{"Feed": "TEST-FEED"}, []byte("data"))
	expectResponse(t, recorder, http.StatusUnauthorized, "300 - Client certificate required")
	if len(h.store.Targets()) != 0 {
		t.Error("target opened for unauthenticated request")
	}
}

func TestFeedStatusOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		feed   string
		code   int
		prefix string
	}{
		{"closed", "CLOSED-FEED", http.StatusNotAcceptable, "110 - Feed is not set to receive data"},
		{"unknown", "NO-SUCH-FEED", http.StatusNotAcceptable, "101 - Feed is not defined"},
		{"dropped", "QUIET-FEED", http.StatusOK, "0 - OK"},
		{"missing", "", http.StatusNotAcceptable, "100 - Feed must be specified"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t, harnessConfig{})
			headers := map[string]string{}
			if test.feed != "" {
				headers["Feed"] = test.feed
			}
			recorder := h.post(headers, []byte("data"))
			expectResponse(t, recorder, test.code, test.prefix)
			if len(h.store.Targets()) != 0 {
				t.Errorf("targets opened: %d", len(h.store.Targets()))
			}
		})
	}
}

func TestGeneratedFeedName(t *testing.T) {
	h := newHarness(t, harnessConfig{autoGenerate: true})
	// The generated name is not in the catalogue.
	recorder := h.post(map[string]string{"AccountId": "test", "Component": "feed"}, []byte("data"))
	expectResponse(t, recorder, http.StatusNotAcceptable, "101 - Feed is not defined: TEST-FEED-EVENTS")
	if len(h.store.Targets()) != 0 {
		t.Error("target opened")
	}
}

func TestContainerRecordToClosedFeedFailsRequest(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	body := buildZip(t,
		"001.dat", "kept until failure",
		"002.meta", "Feed:CLOSED-FEED\n",
		"002.dat", "refused",
	)
	recorder := h.post(map[string]string{"Feed": "TEST-FEED", "Compression": "ZIP"}, body)
	expectResponse(t, recorder, http.StatusNotAcceptable, "110 - Feed is not set to receive data")

	if len(h.store.Committed()) != 0 {
		t.Error("targets committed after failure")
	}
	for _, opened := range h.store.Targets() {
		if !opened.Deleted {
			t.Errorf("target for %s not deleted", opened.Feed)
		}
	}
}

func TestContainerRecordToQuietFeedIsDropped(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	body := buildZip(t,
		"001.dat", "kept",
		"002.meta", "Feed:QUIET-FEED\n",
		"002.dat", "discarded",
	)
	recorder := h.post(map[string]string{"Feed": "TEST-FEED", "Compression": "zip"}, body)
	expectResponse(t, recorder, http.StatusOK, "0 - OK")

	committed := h.store.Committed()
	if len(committed) != 1 || committed[0].Feed != "TEST-FEED" {
		t.Fatalf("committed = %+v", committed)
	}
	if got := promtestutil.ToFloat64(h.metrics.records.WithLabelValues(outcomeDropped)); got != 1 {
		t.Errorf("dropped records = %v, want 1", got)
	}
}

func newKeyAuthenticator(t *testing.T, pattern string) (authn.Authenticator, string) {
	t.Helper()
	hasher := datafeedkey.NewBCryptHasher(bcrypt.MinCost)
	keys := datafeedkey.NewStore(datafeedkey.StoreConfig{
		Hashers: []datafeedkey.Hasher{hasher},
		Clock:   clock.Fake(testEpoch),
	})
	raw, err := datafeedkey.GenerateRawKey(datafeedkey.BCrypt)
	if err != nil {
		t.Fatalf("GenerateRawKey: %v", err)
	}
	hash, err := hasher.Hash(raw, "")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	added := keys.AddAll([]datafeedkey.HashedKey{{
		Hash:              hash,
		HashAlgorithm:     datafeedkey.BCrypt,
		SubjectID:         "acc-1",
		SubjectType:       "AccountId",
		DisplayName:       "Account One",
		StreamMetaData:    map[string]string{"Classification": "internal"},
		ExpiryDateEpochMs: testEpoch.Add(time.Hour).UnixMilli(),
		FeedNamePattern:   pattern,
	}}, "keys.json")
	if added != 1 {
		t.Fatalf("AddAll = %d", added)
	}
	return authn.NewDataFeedKeyAuthenticator(keys, nil), raw
}

func TestDataFeedKeyFeedRestriction(t *testing.T) {
	strategy, raw := newKeyAuthenticator(t, "TEST-.*")

	t.Run("allowed", func(t *testing.T) {
		h := newHarness(t, harnessConfig{strategies: []authn.Authenticator{strategy}, required: true})
		recorder := h.post(map[string]string{
			"Feed":          "TEST-FEED",
			"AccountId":     "acc-1",
			"Authorization": "Bearer " + raw,
		}, []byte("data"))
		expectResponse(t, recorder, http.StatusOK, "0 - OK")
		meta := committedMeta(t, h.store)
		if meta.Get("Classification") != "internal" || meta.Get(attrmap.UploadUsername) != "Account One" {
			t.Errorf("meta:\n%s", meta.String())
		}
	})

	t.Run("request_feed_refused", func(t *testing.T) {
		h := newHarness(t, harnessConfig{strategies: []authn.Authenticator{strategy}, required: true})
		recorder := h.post(map[string]string{
			"Feed":          "OTHER-FEED",
			"AccountId":     "acc-1",
			"Authorization": raw,
		}, []byte("data"))
		expectResponse(t, recorder, http.StatusForbidden, "322 - Data feed key not authorised for feed: OTHER-FEED")
		if len(h.store.Targets()) != 0 {
			t.Error("target opened")
		}
	})

	t.Run("container_feed_refused", func(t *testing.T) {
		h := newHarness(t, harnessConfig{strategies: []authn.Authenticator{strategy}, required: true})
		body := buildZip(t,
			"001.meta", "Feed:OTHER-FEED\n",
			"001.dat", "smuggled",
		)
		recorder := h.post(map[string]string{
			"Feed":          "TEST-FEED",
			"AccountId":     "acc-1",
			"Authorization": "Bearer " + raw,
			"Compression":   "ZIP",
		}, body)
		expectResponse(t, recorder, http.StatusForbidden, "322 - ")
		if len(h.store.Committed()) != 0 {
			t.Error("target committed")
		}
	})

	t.Run("wrong_key", func(t *testing.T) {
		h := newHarness(t, harnessConfig{strategies: []authn.Authenticator{strategy}, required: true})
		other, _ := datafeedkey.GenerateRawKey(datafeedkey.BCrypt)
		recorder := h.post(map[string]string{
			"Feed":          "TEST-FEED",
			"AccountId":     "acc-1",
			"Authorization": "Bearer " + other,
		}, []byte("data"))
		expectResponse(t, recorder, http.StatusUnauthorized, "312 - Data feed key not authenticated")
	})
}

func TestStoreFailureHidesCause(t *testing.T) {
	store := &targettest.Store{OpenError: io.ErrShortWrite}
	h := newHarness(t, harnessConfig{store: store})
	recorder := h.post(map[string]string{"Feed": "TEST-FEED"}, []byte("data"))
	expectResponse(t, recorder, http.StatusInternalServerError, "999 - Unknown error")
	if strings.Contains(recorder.Body.String(), "short write") {
		t.Errorf("cause leaked to client: %q", recorder.Body.String())
	}
	if got := promtestutil.ToFloat64(h.metrics.requests.WithLabelValues(outcomeFailed, "UNKNOWN_ERROR")); got != 1 {
		t.Errorf("failed requests = %v, want 1", got)
	}
}

func TestRequestMetrics(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.post(map[string]string{"Feed": "TEST-FEED"}, []byte("twelve bytes"))
	h.post(map[string]string{"Feed": "TEST-FEED"}, []byte("more"))
	h.post(map[string]string{"Feed": "CLOSED-FEED"}, []byte("x"))
	h.post(map[string]string{"Feed": "QUIET-FEED"}, []byte("x"))

	tests := []struct {
		outcome, code string
		want          float64
	}{
		{outcomeReceived, "OK", 2},
		{outcomeRejected, "FEED_IS_NOT_SET_TO_RECEIVE_DATA", 1},
		{outcomeDropped, "OK", 1},
	}
	for _, test := range tests {
		if got := promtestutil.ToFloat64(h.metrics.requests.WithLabelValues(test.outcome, test.code)); got != test.want {
			t.Errorf("requests{%s,%s} = %v, want %v", test.outcome, test.code, got, test.want)
		}
	}
	if got := promtestutil.ToFloat64(h.metrics.bytes); got != 16 {
		t.Errorf("bytes = %v, want 16", got)
	}
	if got := promtestutil.ToFloat64(h.metrics.inFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}

func TestMetricsReuseRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := NewMetrics(MetricsConfig{Registerer: registry, KeyCount: func() int { return 3 }})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	second, err := NewMetrics(MetricsConfig{Registerer: registry, KeyCount: func() int { return 3 }})
	if err != nil {
		t.Fatalf("second NewMetrics: %v", err)
	}
	if first.requests != second.requests {
		t.Error("second Metrics did not reuse the registered counter")
	}
	if count, err := promtestutil.GatherAndCount(registry, "intake_data_feed_keys"); err != nil || count != 1 {
		t.Errorf("intake_data_feed_keys series = %d, %v", count, err)
	}
}

func TestNilMetrics(t *testing.T) {
	var metrics *Metrics
	metrics.started()()
	metrics.observe(outcomeReceived, nil, demux.Summary{Bytes: 5}, time.Second)
}
